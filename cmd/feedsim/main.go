// Command feedsim is a demo live tick feed. It serves simulated ticks over
// WebSocket in the same frame format as the real feed, so chartd can be run
// without broker credentials.
//
// Clients subscribe with {"type":"subscribe","instrumentKeys":[…]} and then
// receive {"instrumentKey","lastPrice","lastTradeTime"} frames for those
// instruments only.
//
// Config (env vars):
//
//	FEEDSIM_ADDR          listen address (default ":9001")
//	FEEDSIM_INSTRUMENTS   comma-separated KEY=PRICE pairs
//	                      (default "NSE_INDEX|Nifty 50=22400")
//	FEEDSIM_INTERVAL_MS   tick interval in milliseconds (default "250")
//	FEEDSIM_REPLAY_DB     SQLite file captured by chartd; when set, the
//	                      stored 1minute candles of each instrument are
//	                      replayed instead of the random walk
//	FEEDSIM_REPLAY_SPEED  replay speed multiplier (default "1")
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"tradedash/internal/marketdata/replay"
	"tradedash/internal/model"
	sqlitestore "tradedash/internal/store/sqlite"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Key   string
	Price float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	send chan []byte

	mu   sync.RWMutex
	keys map[string]bool
}

func (c *client) wants(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[key]
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{send: make(chan []byte, 256), keys: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(key string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(key) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client, drop the tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type controlFrame struct {
	Type           string   `json:"type"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: subscription control frames.
		go func() {
			defer conn.Close()
			for {
				var f controlFrame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				c.mu.Lock()
				for _, k := range f.InstrumentKeys {
					switch f.Type {
					case "subscribe":
						c.keys[k] = true
					case "unsubscribe":
						delete(c.keys, k)
					}
				}
				c.mu.Unlock()
				log.Printf("[feedsim] %s %s %v", r.RemoteAddr, f.Type, f.InstrumentKeys)
			}
		}()

		// Write pump: sends tick JSON to this client.
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.05 {
		next = 0.05
	}
	return float64(int64(next*100+0.5)) / 100
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for now := range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			tick := model.Tick{
				InstrumentKey: instruments[i].Key,
				LastPrice:     instruments[i].Price,
				TradeTS:       now.Unix(),
			}
			h.broadcast(tick.InstrumentKey, tick.JSON())
		}
	}
}

// startReplay plays the captured candles of every instrument, one goroutine
// each, from a read-only SQLite connection.
func startReplay(h *hub, dbPath string, instruments []instrument, speed float64) error {
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return err
	}
	ticks := make(chan model.Tick, 1024)
	for _, inst := range instruments {
		r := replay.New(reader)
		r.Speed = speed
		key := model.SeriesKey{InstrumentKey: inst.Key, Timeframe: model.TF1Minute}
		go func() {
			if err := r.Run(context.Background(), key, 0, ticks); err != nil {
				log.Printf("[feedsim] replay %s: %v", key, err)
			}
		}()
	}
	go func() {
		for t := range ticks {
			h.broadcast(t.InstrumentKey, t.JSON())
		}
	}()
	log.Printf("[feedsim] replaying %s at %.1fx", dbPath, speed)
	return nil
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting demo tick feed...")
	_ = godotenv.Load()

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	instrumentsEnv := envOrDefault("FEEDSIM_INSTRUMENTS", "NSE_INDEX|Nifty 50=22400")
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 250)

	instruments := parseInstruments(instrumentsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no instruments configured via FEEDSIM_INSTRUMENTS")
	}
	log.Printf("[feedsim] instruments: %+v", instruments)
	log.Printf("[feedsim] tick interval: %dms", intervalMs)

	h := newHub()
	if db := os.Getenv("FEEDSIM_REPLAY_DB"); db != "" {
		speed := envFloatOrDefault("FEEDSIM_REPLAY_SPEED", 1)
		if err := startReplay(h, db, instruments, speed); err != nil {
			log.Fatalf("[feedsim] replay: %v", err)
		}
	} else {
		go runGenerator(h, instruments, time.Duration(intervalMs)*time.Millisecond)
	}

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, priceStr, found := strings.Cut(part, "=")
		price := 1000.0
		if found {
			p, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
			if err != nil || p <= 0 {
				log.Printf("[feedsim] skipping invalid instrument spec: %q", part)
				continue
			}
			price = p
		}
		result = append(result, instrument{Key: strings.TrimSpace(key), Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
