package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"signal-engine/internal/model"
	"signal-engine/internal/notification"

	"github.com/gorilla/websocket"
)

const replayDepth = 100

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Channel names carried in envelopes.
func analysisChannel(symbol string) string { return "analysis:" + symbol }
func alertChannel(symbol string) string    { return "alert:" + symbol }

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub fans analysis results and admitted alerts out to WebSocket clients.
// It implements model.AnalysisPublisher and notification.Notifier.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:         log,
		now:         time.Now,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// PublishAnalysis broadcasts the aggregate on analysis:<symbol>.
func (h *Hub) PublishAnalysis(_ context.Context, res model.AggregateResult) error {
	h.Broadcast(analysisChannel(res.Symbol), res.JSON())
	return nil
}

// Name implements notification.Notifier.
func (h *Hub) Name() string { return "websocket" }

// Send broadcasts an admitted alert on alert:<symbol>.
func (h *Hub) Send(_ context.Context, a notification.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	h.Broadcast(alertChannel(a.Symbol), data)
	return nil
}

// Broadcast wraps data in an envelope and sends it to every client whose
// subscriptions match channel. Slow clients drop the message.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	seq := h.seq
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayDepth)
		h.replayBufs[channel] = rb
	}
	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	// Pushed under the lock so the buffer sees channel_seq in order.
	rb.Push(channelSeq, buf)
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// buildEnvelope renders {"channel":..,"data":..,"ts":..,"seq":..,"channel_seq":..}.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// HandleWS upgrades the request and registers the client. A last_ts query
// parameter limits the initial state to newer entries.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client connected", "clients", count)

	client.sendInitialState(r.URL.Query().Get("last_ts"))
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Latest returns the most recent payload on channel.
func (h *Hub) Latest(channel string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[channel]
	return e.Data, ok
}

// ReplayRange returns buffered envelopes for channel in [fromSeq, toSeq].
// truncated reports that older envelopes in the range were evicted.
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) (envs [][]byte, truncated bool) {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return rb.Range(fromSeq, toSeq)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

var (
	_ model.AnalysisPublisher = (*Hub)(nil)
	_ notification.Notifier   = (*Hub)(nil)
)
