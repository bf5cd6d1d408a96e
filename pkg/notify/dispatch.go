package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/wneessen/go-mail"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// Delivery is one outbound notification: the alert payload plus the
// identifiers receivers use to correlate it.
type Delivery struct {
	NotificationID string
	IncidentID     string
	Payload        *models.AlertPayload
}

// Dispatcher delivers one notification through one configured channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel *models.NotificationChannel, d *Delivery) error
}

// dispatcherSet maps channel types to their transport.
func newDispatcherSet(smtp *config.SMTPConfig, httpClient *http.Client) map[models.ChannelType]Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return map[models.ChannelType]Dispatcher{
		models.ChannelEmail:     &emailDispatcher{smtp: smtp},
		models.ChannelWebhook:   &webhookDispatcher{client: httpClient},
		models.ChannelSlack:     &slackDispatcher{},
		models.ChannelSMS:       &smsDispatcher{client: httpClient},
		models.ChannelPagerDuty: &pagerDutyDispatcher{client: httpClient},
	}
}

func configString(cfg models.JSONMap, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// emailDispatcher sends through the platform SMTP relay.
type emailDispatcher struct {
	smtp *config.SMTPConfig
}

func (d *emailDispatcher) Dispatch(ctx context.Context, channel *models.NotificationChannel, delivery *Delivery) error {
	payload := delivery.Payload
	if d.smtp == nil || !d.smtp.Configured() {
		return fmt.Errorf("smtp relay not configured")
	}
	recipients := configString(channel.Config, "recipients")
	if recipients == "" {
		return fmt.Errorf("email channel %s has no recipients", channel.ID)
	}

	msg := mail.NewMsg()
	if err := msg.From(d.smtp.FromEmail); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	for _, rcpt := range strings.Split(recipients, ",") {
		if err := msg.AddTo(strings.TrimSpace(rcpt)); err != nil {
			return fmt.Errorf("invalid recipient %q: %w", rcpt, err)
		}
	}
	msg.Subject(fmt.Sprintf("[%s] %s", strings.ToUpper(string(payload.Severity)), payload.Title))
	msg.SetBodyString(mail.TypeTextPlain, payload.Message)

	opts := []mail.Option{mail.WithPort(d.smtp.Port)}
	if d.smtp.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if d.smtp.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.smtp.User),
			mail.WithPassword(d.smtp.Password),
		)
	}
	client, err := mail.NewClient(d.smtp.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to build smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

// webhookDispatcher POSTs an alert envelope as JSON to the configured URL.
type webhookDispatcher struct {
	client *http.Client
}

func (d *webhookDispatcher) Dispatch(ctx context.Context, channel *models.NotificationChannel, delivery *Delivery) error {
	url := configString(channel.Config, "webhook_url")
	if url == "" {
		return fmt.Errorf("webhook channel %s has no webhook_url", channel.ID)
	}

	envelope := map[string]any{
		"alert":           delivery.Payload,
		"incident_id":     delivery.IncidentID,
		"notification_id": delivery.NotificationID,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	if fields, ok := channel.Config["custom_fields"].(map[string]any); ok {
		for k, v := range fields {
			envelope[k] = v
		}
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := channel.Config["headers"].(map[string]any); ok {
		for name, v := range headers {
			if value, ok := v.(string); ok {
				req.Header.Set(name, value)
			}
		}
	}
	if token := configString(channel.Config, "token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// slackDispatcher posts through a Slack incoming webhook.
type slackDispatcher struct{}

var severityColors = map[models.Severity]string{
	models.SeverityLow:      "#36a64f",
	models.SeverityMedium:   "#daa038",
	models.SeverityHigh:     "#e8912d",
	models.SeverityCritical: "#d00000",
}

func (d *slackDispatcher) Dispatch(ctx context.Context, channel *models.NotificationChannel, delivery *Delivery) error {
	payload := delivery.Payload
	url := configString(channel.Config, "webhook_url")
	if url == "" {
		return fmt.Errorf("slack channel %s has no webhook_url", channel.ID)
	}

	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color: severityColors[payload.Severity],
			Title: payload.Title,
			Text:  payload.Message,
			Fields: []slack.AttachmentField{
				{Title: "Severity", Value: string(payload.Severity), Short: true},
				{Title: "Rule", Value: payload.RuleName, Short: true},
			},
		}},
	}
	if err := slack.PostWebhookContext(ctx, url, msg); err != nil {
		return fmt.Errorf("slack delivery failed: %w", err)
	}
	return nil
}

// smsDispatcher posts a short text to an SMS gateway API.
type smsDispatcher struct {
	client *http.Client
}

func (d *smsDispatcher) Dispatch(ctx context.Context, channel *models.NotificationChannel, delivery *Delivery) error {
	payload := delivery.Payload
	url := configString(channel.Config, "gateway_url")
	to := configString(channel.Config, "phone_number")
	if url == "" || to == "" {
		return fmt.Errorf("sms channel %s needs gateway_url and phone_number", channel.ID)
	}

	text := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(payload.Severity)), payload.Title, payload.Message)
	// Truncate on rune boundaries so multibyte text stays valid.
	if runes := []rune(text); len(runes) > 160 {
		text = string(runes[:157]) + "..."
	}
	body, err := json.Marshal(map[string]string{"to": to, "message": text})
	if err != nil {
		return fmt.Errorf("failed to serialize sms body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := configString(channel.Config, "api_key"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}

// pagerDutyDispatcher triggers a PagerDuty Events API v2 alert.
type pagerDutyDispatcher struct {
	client *http.Client
}

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

func (d *pagerDutyDispatcher) Dispatch(ctx context.Context, channel *models.NotificationChannel, delivery *Delivery) error {
	payload := delivery.Payload
	routingKey := configString(channel.Config, "routing_key")
	if routingKey == "" {
		return fmt.Errorf("pagerduty channel %s has no routing_key", channel.ID)
	}
	url := configString(channel.Config, "events_url")
	if url == "" {
		url = pagerDutyEventsURL
	}

	pdSeverity := "warning"
	switch payload.Severity {
	case models.SeverityCritical:
		pdSeverity = "critical"
	case models.SeverityHigh:
		pdSeverity = "error"
	case models.SeverityLow:
		pdSeverity = "info"
	}

	event := map[string]any{
		"routing_key":  routingKey,
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":        payload.Title,
			"source":         "regfabric",
			"severity":       pdSeverity,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
			"custom_details": map[string]any{"message": payload.Message, "data": payload.Data},
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("pagerduty returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
