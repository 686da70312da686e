package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradedash/internal/indicator"
	"tradedash/internal/markethours"
	"tradedash/internal/metrics"
	"tradedash/internal/render"
	"tradedash/internal/session"
	"tradedash/internal/upstream"
)

// SinkPublisher mirrors a session's envelopes to other gateway instances.
// *redis.Publisher satisfies it.
type SinkPublisher interface {
	Sink(session string) render.Sink
}

// HubConfig configures a Hub.
type HubConfig struct {
	Sessions   *session.Manager
	Publisher  SinkPublisher // optional
	Metrics    *metrics.Metrics
	Indicators []indicator.Spec // used when SUBSCRIBE names none

	// PrepareBacktest fills strategy defaults before a backtest runs.
	PrepareBacktest func(req upstream.BacktestRequest) (upstream.BacktestRequest, error)

	SendBuffer int // per-client queue, default 256
	ReplaySize int // per-client replay buffer, default 500
}

// Hub owns the WebSocket clients. Every client has exactly one chart
// session, keyed by the client id.
type Hub struct {
	cfg HubConfig

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = 500
	}
	return &Hub{cfg: cfg, clients: make(map[string]*Client)}
}

// Register wraps an upgraded connection in a Client and starts its pumps.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn) *Client {
	c := newClient(ctx, h, uuid.NewString(), conn)

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.gauge(count)

	log.Printf("[gateway] ws client %s connected (%d total)", c.id, count)
	c.sendJSON(AckResponse{Type: "HELLO", Session: c.id})

	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	h.gauge(count)

	h.cfg.Sessions.Close(c.id)
	c.close()
	log.Printf("[gateway] ws client %s disconnected (%d total)", c.id, count)
}

func (h *Hub) gauge(clients int) {
	if h.cfg.Metrics == nil {
		return
	}
	h.cfg.Metrics.WSClients.Set(float64(clients))
	h.cfg.Metrics.SessionsOpen.Set(float64(h.cfg.Sessions.Len()))
}

// Client looks up a connected client by its session id.
func (h *Hub) Client(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastStatus sends a status line to every client's chart.
func (h *Hub) BroadcastStatus(msg string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.sink.Status(msg)
	}
}

// RunMarketStatus announces market open/close transitions to all clients
// and keeps the market state gauge current. Blocks until ctx is cancelled.
func (h *Hub) RunMarketStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		now := time.Now()
		st := markethours.StatusAt(now)
		state := 0
		if st.Open {
			state = 1
		}
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.MarketState.Set(float64(state))
		}
		if last != -1 && state != last {
			log.Printf("[gateway] %s", st.Message)
			h.BroadcastStatus(st.Message)
		}
		last = state

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
