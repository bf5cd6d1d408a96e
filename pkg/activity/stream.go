package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/compliance-ops/regfabric/pkg/models"
)

const (
	writeTimeout    = 5 * time.Second
	clientSendLimit = 64
)

// streamClient is one connected websocket consumer.
type streamClient struct {
	id     string
	conn   *websocket.Conn
	sendCh chan *models.AgentActivityEvent
	subID  string
}

// StreamHub bridges the feed's subscriptions onto websocket connections.
// Each client gets its own send queue; a client that cannot keep up is
// dropped rather than blocking the recording path.
type StreamHub struct {
	log  *slog.Logger
	feed *Feed

	mu      sync.Mutex
	clients map[string]*streamClient
}

// NewStreamHub creates a streaming hub over the feed.
func NewStreamHub(feed *Feed, logger *slog.Logger) *StreamHub {
	return &StreamHub{
		log:     logger.With("component", "activity_stream"),
		feed:    feed,
		clients: map[string]*streamClient{},
	}
}

// ClientCount returns the number of connected consumers.
func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams matching events until the
// client disconnects. The filter arrives as an optional first text message.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket accept failed", "error", err)
		return
	}

	client := &streamClient{
		id:     uuid.New().String(),
		conn:   conn,
		sendCh: make(chan *models.AgentActivityEvent, clientSendLimit),
	}

	filter := h.readFilter(r.Context(), conn)
	client.subID = h.feed.Subscribe(filter, func(event *models.AgentActivityEvent) {
		select {
		case client.sendCh <- event:
		default:
			// Slow consumer; closing the channel is handled by removal.
			h.remove(client, websocket.StatusPolicyViolation, "send queue overflow")
		}
	})

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.log.Info("Stream client connected", "client_id", client.id)

	h.writeLoop(r.Context(), client)
}

// readFilter waits briefly for an initial filter message. Absent or
// malformed filters fall back to match-everything.
func (h *StreamHub) readFilter(ctx context.Context, conn *websocket.Conn) models.ActivityFilter {
	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	var filter models.ActivityFilter
	_, data, err := conn.Read(readCtx)
	if err != nil {
		return filter
	}
	if err := json.Unmarshal(data, &filter); err != nil {
		h.log.Warn("Malformed stream filter, matching all events", "error", err)
		return models.ActivityFilter{}
	}
	return filter
}

func (h *StreamHub) writeLoop(ctx context.Context, client *streamClient) {
	defer h.remove(client, websocket.StatusNormalClosure, "")

	for {
		select {
		case event, ok := <-client.sendCh:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("Failed to serialize stream event", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = client.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *StreamHub) remove(client *streamClient, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, present := h.clients[client.id]
	delete(h.clients, client.id)
	h.mu.Unlock()
	if !present {
		return
	}

	h.feed.Unsubscribe(client.subID)
	client.conn.Close(code, reason)
	h.log.Info("Stream client disconnected", "client_id", client.id)
}

// CloseAll disconnects every client, for shutdown.
func (h *StreamHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, websocket.StatusGoingAway, "server shutting down")
	}
}
