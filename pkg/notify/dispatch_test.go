package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/compliance-ops/regfabric/pkg/secrets"
)

func testPayload() *models.AlertPayload {
	return &models.AlertPayload{
		Title:    "High transaction volume",
		Message:  "transaction_volume = 150.0000 (gt 100.0000)",
		Severity: models.SeverityHigh,
		RuleName: "volume-spike",
	}
}

func testDelivery() *Delivery {
	return &Delivery{
		NotificationID: "ntf-1",
		IncidentID:     "inc-1",
		Payload:        testPayload(),
	}
}

func TestWebhookDispatcher(t *testing.T) {
	t.Run("posts alert envelope with bearer token", func(t *testing.T) {
		var got map[string]any
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := &webhookDispatcher{client: srv.Client()}
		channel := &models.NotificationChannel{
			ID:   "ch1",
			Type: models.ChannelWebhook,
			Config: models.JSONMap{
				"webhook_url": srv.URL,
				"token":       "s3cret",
			},
		}
		require.NoError(t, d.Dispatch(context.Background(), channel, testDelivery()))
		assert.Equal(t, "Bearer s3cret", auth)
		assert.Equal(t, "inc-1", got["incident_id"])
		assert.Equal(t, "ntf-1", got["notification_id"])
		ts, ok := got["timestamp"].(string)
		require.True(t, ok)
		_, err := time.Parse(time.RFC3339, ts)
		assert.NoError(t, err)
		alert, ok := got["alert"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "High transaction volume", alert["title"])
		assert.Equal(t, string(models.SeverityHigh), alert["severity"])
	})

	t.Run("custom fields and headers from channel config", func(t *testing.T) {
		var got map[string]any
		var team string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			team = r.Header.Get("X-Team")
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := &webhookDispatcher{client: srv.Client()}
		channel := &models.NotificationChannel{
			ID:   "ch1",
			Type: models.ChannelWebhook,
			Config: models.JSONMap{
				"webhook_url":   srv.URL,
				"custom_fields": map[string]any{"environment": "prod"},
				"headers":       map[string]any{"X-Team": "compliance"},
			},
		}
		require.NoError(t, d.Dispatch(context.Background(), channel, testDelivery()))
		assert.Equal(t, "compliance", team)
		assert.Equal(t, "prod", got["environment"])
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		}))
		defer srv.Close()

		d := &webhookDispatcher{client: srv.Client()}
		channel := &models.NotificationChannel{
			ID:     "ch1",
			Config: models.JSONMap{"webhook_url": srv.URL},
		}
		err := d.Dispatch(context.Background(), channel, testDelivery())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("missing url fails without a request", func(t *testing.T) {
		d := &webhookDispatcher{client: http.DefaultClient}
		channel := &models.NotificationChannel{ID: "ch1", Config: models.JSONMap{}}
		assert.Error(t, d.Dispatch(context.Background(), channel, testDelivery()))
	})
}

func TestSlackDispatcher(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &slackDispatcher{}
	channel := &models.NotificationChannel{
		ID:     "ch2",
		Type:   models.ChannelSlack,
		Config: models.JSONMap{"webhook_url": srv.URL},
	}
	require.NoError(t, d.Dispatch(context.Background(), channel, testDelivery()))

	attachments, ok := body["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]any)
	assert.Equal(t, "High transaction volume", first["title"])
	assert.Equal(t, severityColors[models.SeverityHigh], first["color"])
}

func TestSMSDispatcher_TruncatesLongMessages(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	delivery := testDelivery()
	for len(delivery.Payload.Message) < 300 {
		delivery.Payload.Message += " additional detail"
	}

	d := &smsDispatcher{client: srv.Client()}
	channel := &models.NotificationChannel{
		ID:   "ch3",
		Type: models.ChannelSMS,
		Config: models.JSONMap{
			"gateway_url":  srv.URL,
			"phone_number": "+15550100",
		},
	}
	require.NoError(t, d.Dispatch(context.Background(), channel, delivery))
	assert.Equal(t, "+15550100", got["to"])
	assert.LessOrEqual(t, utf8.RuneCountInString(got["message"]), 160)
}

func TestSMSDispatcher_TruncatesOnRuneBoundary(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	delivery := testDelivery()
	delivery.Payload.Message = strings.Repeat("é", 300)

	d := &smsDispatcher{client: srv.Client()}
	channel := &models.NotificationChannel{
		ID:   "ch3",
		Type: models.ChannelSMS,
		Config: models.JSONMap{
			"gateway_url":  srv.URL,
			"phone_number": "+15550100",
		},
	}
	require.NoError(t, d.Dispatch(context.Background(), channel, delivery))
	assert.True(t, utf8.ValidString(got["message"]))
	assert.LessOrEqual(t, utf8.RuneCountInString(got["message"]), 160)
	assert.True(t, strings.HasSuffix(got["message"], "..."))
}

func TestPagerDutyDispatcher(t *testing.T) {
	var event map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &event))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := &pagerDutyDispatcher{client: srv.Client()}
	channel := &models.NotificationChannel{
		ID:   "ch4",
		Type: models.ChannelPagerDuty,
		Config: models.JSONMap{
			"routing_key": "rk-123",
			"events_url":  srv.URL,
		},
	}

	delivery := testDelivery()
	delivery.Payload.Severity = models.SeverityCritical
	require.NoError(t, d.Dispatch(context.Background(), channel, delivery))
	assert.Equal(t, "rk-123", event["routing_key"])
	assert.Equal(t, "trigger", event["event_action"])
	inner := event["payload"].(map[string]any)
	assert.Equal(t, "critical", inner["severity"])
	ts, ok := inner["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestRetryDelay_JitterBounds(t *testing.T) {
	base := 60 * time.Second
	for retryCount := 1; retryCount <= 3; retryCount++ {
		exp := base << uint(retryCount)
		for i := 0; i < 50; i++ {
			d := retryDelay(base, retryCount)
			assert.GreaterOrEqual(t, d, time.Duration(float64(exp)*0.75))
			assert.LessOrEqual(t, d, time.Duration(float64(exp)*1.25))
		}
	}
}

func TestChannelStore_ConfigSealing(t *testing.T) {
	key := make([]byte, 32)
	cipher, err := secrets.NewCipher(key)
	require.NoError(t, err)
	store := &ChannelStore{cipher: cipher}

	original := models.JSONMap{
		"webhook_url": "https://hooks.example.com/T000/B000/secret",
		"recipients":  "oncall@example.com",
	}

	sealed, err := store.sealConfig(original)
	require.NoError(t, err)
	assert.NotEqual(t, original["webhook_url"], sealed["webhook_url"])
	assert.Equal(t, original["recipients"], sealed["recipients"])

	opened, err := store.openConfig(sealed)
	require.NoError(t, err)
	assert.Equal(t, original, opened)
}

func TestChannelStore_NilCipherPassthrough(t *testing.T) {
	store := &ChannelStore{}
	cfg := models.JSONMap{"webhook_url": "https://example.com"}
	out, err := store.sealConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg, out)
}
