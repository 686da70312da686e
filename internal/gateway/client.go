package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
	"tradedash/internal/render"
	"tradedash/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 * 1024 // BACKTEST requests carry strategy params
)

// Client is one browser WebSocket peer and its chart session.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	closed bool

	replay *ReplayBuffer
	sink   render.Sink

	sessMu sync.Mutex
	sess   *session.Session
}

func newClient(ctx context.Context, h *Hub, id string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		id:     id,
		hub:    h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, h.cfg.SendBuffer),
		replay: NewReplayBuffer(h.cfg.ReplaySize),
	}
	var sink render.Sink = render.NewSequencedSink(id, func(seq int64, msg []byte) {
		c.replay.Push(seq, msg)
		c.enqueue(msg)
	})
	if h.cfg.Publisher != nil {
		sink = render.Multi{sink, h.cfg.Publisher.Sink(id)}
	}
	c.sink = sink
	return c
}

// ID returns the client's session id.
func (c *Client) ID() string { return c.id }

// enqueue queues msg for the write pump. Never blocks: a full queue drops
// the frame and the client recovers it through /api/missed.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		if m := c.hub.cfg.Metrics; m != nil {
			m.WSSendDropped.Inc()
		}
		return false
	}
}

func (c *Client) close() {
	c.cancel()
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(reqID string, err error) {
	c.sendJSON(ErrorResponse{Type: "ERROR", ReqID: reqID, Error: err.Error()})
}

// session returns the client's chart session, opening it on first use.
func (c *Client) session() *session.Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.sess == nil {
		c.sess = c.hub.cfg.Sessions.OpenWith(c.id, c.sink)
		c.hub.gauge(c.hub.ClientCount())
	}
	return c.sess
}

// subscribe switches the chart before returning, so requests take effect in
// the order they were read. Only the history fetch runs in the background.
func (c *Client) subscribe(msg SubscribeMsg) {
	symbol := strings.TrimSpace(msg.Symbol)
	if symbol == "" {
		c.sendError(msg.ReqID, errors.New("symbol is required"))
		return
	}
	tf := model.TF1Day
	if msg.TF != "" {
		var err error
		if tf, err = model.ParseTimeframe(msg.TF); err != nil {
			c.sendError(msg.ReqID, err)
			return
		}
	}
	specs := c.hub.cfg.Indicators
	if msg.Indicators != nil {
		specs = make([]indicator.Spec, 0, len(msg.Indicators))
		for _, raw := range msg.Indicators {
			s, err := indicator.ParseSpec(raw)
			if err != nil {
				c.sendError(msg.ReqID, err)
				return
			}
			specs = append(specs, s)
		}
	}

	log.Printf("[gateway] client %s subscribe symbol=%s tf=%s indicators=%v", c.id, symbol, tf, specNames(specs))
	load, err := c.hub.cfg.Sessions.StartSwitch(c.session(), symbol, tf, specs)
	if err != nil {
		c.reply(msg.ReqID, err)
		return
	}
	go func() { c.reply(msg.ReqID, load(c.ctx)) }()
}

func (c *Client) unsubscribe() {
	c.sessMu.Lock()
	had := c.sess != nil
	c.sess = nil
	c.sessMu.Unlock()
	if had {
		c.hub.cfg.Sessions.Close(c.id)
		c.hub.gauge(c.hub.ClientCount())
	}
}

func (c *Client) backtest(msg BacktestMsg) {
	req := msg.Request
	if prep := c.hub.cfg.PrepareBacktest; prep != nil {
		var err error
		if req, err = prep(req); err != nil {
			c.sendError(msg.ReqID, err)
			return
		}
	}
	run, err := c.hub.cfg.Sessions.StartBacktest(c.session(), req)
	if err != nil {
		c.reply(msg.ReqID, err)
		return
	}
	go func() {
		_, err := run(c.ctx)
		c.reply(msg.ReqID, err)
	}()
}

// reply acknowledges a request. Superseded requests get no reply; the
// newer request answers instead.
func (c *Client) reply(reqID string, err error) {
	switch {
	case err == nil:
		c.sendJSON(AckResponse{Type: "ACK", ReqID: reqID, Session: c.id})
	case errors.Is(err, session.ErrStale), errors.Is(err, context.Canceled):
	default:
		c.sendError(reqID, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued envelopes into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[gateway] client %s read error: %v", c.id, err)
			}
			return
		}
		c.handle(raw)
	}
}

// handle dispatches one client message. Series changes apply in read order;
// loads run in their own goroutine and the session's request token discards
// whichever finishes out of order.
func (c *Client) handle(raw []byte) {
	var base struct {
		Type  string `json:"type"`
		ReqID string `json:"reqId"`
		Ping  int64  `json:"ping"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		c.sendError("", fmt.Errorf("invalid message: %w", err))
		return
	}

	switch base.Type {
	case TypeSubscribe:
		var msg SubscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(base.ReqID, fmt.Errorf("invalid SUBSCRIBE: %w", err))
			return
		}
		c.subscribe(msg)
	case TypeUnsubscribe:
		c.unsubscribe()
		c.reply(base.ReqID, nil)
	case TypeBacktest:
		var msg BacktestMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(base.ReqID, fmt.Errorf("invalid BACKTEST: %w", err))
			return
		}
		c.backtest(msg)
	default:
		if base.Ping > 0 {
			c.sendJSON(map[string]interface{}{
				"type":      "pong",
				"ping":      base.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			return
		}
		c.sendError(base.ReqID, fmt.Errorf("unknown message type %q", base.Type))
	}
}
