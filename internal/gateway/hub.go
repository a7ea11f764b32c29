// Package gateway is the dashboard-facing surface: REST endpoints for
// running checks and reading the signal history, plus a WebSocket feed
// that pushes every recorded signal as it happens.
package gateway

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"signal-recorder/internal/markethours"
	"signal-recorder/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages WebSocket clients and fans recorded signals out to them.
// Each broadcast is also retained in a backlog so reconnecting clients
// can backfill what they missed.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	backlog *Backlog

	// Latency tracks whole-check durations for /api/metrics percentiles.
	Latency *LatencyTracker

	// Callbacks (optional)
	OnClientCount func(n int) // fired on connect/disconnect with the new total
	OnMessageSent func()      // fired per envelope queued to a client
}

// NewHub creates a Hub with an empty backlog.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		backlog: NewBacklog(256),
		Latency: NewLatencyTracker(4096),
	}
}

// Run consumes recorded signals from ch and broadcasts each one.
// Blocks until ctx is cancelled or ch is closed.
func (h *Hub) Run(ctx context.Context, ch <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(sig)
		}
	}
}

// Broadcast sends one signal envelope to every connected client and
// retains it in the backlog. Slow clients are skipped, not waited on; the
// durable log is the record, the feed is advisory.
func (h *Hub) Broadcast(sig model.Signal) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	buf := buildEnvelope("signal", sig.JSON(), seq, now)
	h.backlog.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- buf:
			if h.OnMessageSent != nil {
				h.OnMessageSent()
			}
		default:
		}
	}
}

// buildEnvelope hand-crafts the WS envelope JSON. data must already be
// valid JSON.
func buildEnvelope(msgType string, data []byte, seq int64, now time.Time) []byte {
	buf := make([]byte, 0, len(msgType)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, msgType...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `"}`...)
	return buf
}

// HandleWS upgrades the connection and registers the client. Clients may
// pass ?last_seq=N to backfill everything after N from the backlog.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	var lastSeq int64
	if s := r.URL.Query().Get("last_seq"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
			lastSeq = n
		}
	}

	go client.sendBacklog(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the most recent broadcast.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// StartMetricsBroadcast pushes a system metrics envelope to all clients
// every interval. Blocks until ctx is cancelled.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m := CollectMetrics(start)
			payload := metricsEnvelope{
				Metrics:      m,
				MarketOpen:   markethours.IsMarketOpen(now),
				MarketStatus: markethours.StatusString(now),
				WSClients:    h.ClientCount(),
			}
			if h.Latency != nil {
				s := h.Latency.Summary()
				payload.CheckP50Ms, payload.CheckP95Ms, payload.CheckP99Ms = s.P50, s.P95, s.P99
			}

			h.mu.Lock()
			h.seq++
			seq := h.seq
			h.mu.Unlock()

			buf := buildEnvelope("metrics", payload.JSON(), seq, now.UTC())

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- buf:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
