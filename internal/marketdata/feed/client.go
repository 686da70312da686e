// Package feed is the WebSocket client for the live tick channel.
//
// Frames on the wire are JSON. A single tick:
//
//	{"instrumentKey":"NSE_EQ|INE002A01018","lastPrice":2951.4,"lastTradeTime":1710234932}
//
// or a batch keyed by instrument:
//
//	{"feeds":{"NSE_EQ|INE002A01018":{"ltp":2951.4,"ltt":"1710234932000"}}}
//
// The client subscribes by sending {"type":"subscribe","instrumentKeys":[…]}.
// Retry on disconnect belongs here; the aggregator never retries.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradedash/internal/markethours"
	"tradedash/internal/model"
)

// Connection states passed to OnStatus. Disconnects are reported as
// "disconnected: <error>".
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusMarketClosed = "market closed"
	StatusDisconnected = "disconnected"
)

// Config holds configuration for the feed client.
type Config struct {
	// URL of the tick WebSocket, e.g. "ws://localhost:9001/ws"
	URL string

	// Instruments subscribed on every (re)connect.
	Instruments []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Client streams ticks from the feed into a channel.
type Client struct {
	cfg Config

	mu          sync.Mutex
	instruments map[string]bool
	conn        *websocket.Conn
	writeMu     sync.Mutex

	now func() time.Time

	// Optional hooks.
	OnStatus    func(status string)
	OnReconnect func()
	OnMalformed func()
}

// New creates a feed client. Returns an error if the URL is unparseable.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: unsupported scheme %q", u.Scheme)
	}
	c := &Client{cfg: cfg, instruments: make(map[string]bool), now: time.Now}
	for _, k := range cfg.Instruments {
		c.instruments[k] = true
	}
	return c, nil
}

// Start connects and streams ticks into tickCh. Blocks until ctx is
// cancelled; reconnects with exponential backoff on disconnect.
func (c *Client) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.status(StatusConnecting)
		connected, err := c.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		c.status(StatusDisconnected + ": " + err.Error())
		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (c *Client) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	keys := c.keysLocked()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	log.Printf("[feed] connected to %s", c.cfg.URL)
	if markethours.IsMarketOpen(c.now()) {
		c.status(StatusConnected)
	} else {
		c.status(StatusMarketClosed)
	}

	if len(keys) > 0 {
		if err := c.send(conn, "subscribe", keys); err != nil {
			return true, err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			c.writeMu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		ticks, err := DecodeFrame(raw)
		if err != nil {
			log.Printf("[feed] dropping frame: %v (raw: %.200s)", err, raw)
			if c.OnMalformed != nil {
				c.OnMalformed()
			}
			continue
		}

		for _, t := range ticks {
			select {
			case tickCh <- t:
			default:
				log.Println("[feed] tickCh full, dropping tick")
			}
		}
	}
}

// Subscribe adds instruments. They are sent immediately when connected and
// on every reconnect.
func (c *Client) Subscribe(keys ...string) error {
	return c.update("subscribe", keys, true)
}

// Unsubscribe removes instruments.
func (c *Client) Unsubscribe(keys ...string) error {
	return c.update("unsubscribe", keys, false)
}

// Instruments returns the current subscription set, sorted.
func (c *Client) Instruments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysLocked()
}

func (c *Client) update(kind string, keys []string, add bool) error {
	c.mu.Lock()
	var changed []string
	for _, k := range keys {
		if k == "" || c.instruments[k] == add {
			continue
		}
		if add {
			c.instruments[k] = true
		} else {
			delete(c.instruments, k)
		}
		changed = append(changed, k)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(changed) == 0 {
		return nil
	}
	return c.send(conn, kind, changed)
}

func (c *Client) keysLocked() []string {
	keys := make([]string, 0, len(c.instruments))
	for k := range c.instruments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type controlFrame struct {
	Type           string   `json:"type"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

func (c *Client) send(conn *websocket.Conn, kind string, keys []string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(controlFrame{Type: kind, InstrumentKeys: keys}); err != nil {
		return fmt.Errorf("feed: send %s: %w", kind, err)
	}
	return nil
}

func (c *Client) status(s string) {
	if c.OnStatus != nil {
		c.OnStatus(s)
	}
}

// ErrEmptyFrame is returned for frames that carry no ticks.
var ErrEmptyFrame = errors.New("feed: frame has no ticks")

// DecodeFrame extracts ticks from one wire frame. Invalid entries inside a
// batch are skipped; a frame with no valid tick is an error.
func DecodeFrame(raw []byte) ([]model.Tick, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("feed: decode: %w", err)
	}

	var ticks []model.Tick
	if feeds, ok := obj["feeds"].(map[string]interface{}); ok {
		keys := make([]string, 0, len(feeds))
		for k := range feeds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			f, ok := feeds[k].(map[string]interface{})
			if !ok {
				continue
			}
			t := model.Tick{InstrumentKey: k}
			t.LastPrice, _ = model.ParseNumber(f["ltp"])
			t.TradeTS, _ = model.ParseTimestamp(f["ltt"])
			if t.Valid() {
				ticks = append(ticks, t)
			}
		}
	} else {
		t := model.Tick{}
		t.InstrumentKey, _ = obj["instrumentKey"].(string)
		t.LastPrice, _ = model.ParseNumber(obj["lastPrice"])
		t.TradeTS, _ = model.ParseTimestamp(obj["lastTradeTime"])
		if !t.Valid() {
			return nil, fmt.Errorf("feed: malformed tick key=%q", t.InstrumentKey)
		}
		ticks = append(ticks, t)
	}
	if len(ticks) == 0 {
		return nil, ErrEmptyFrame
	}
	return ticks, nil
}
