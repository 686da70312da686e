package session

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tradedash/internal/indicator"
	"tradedash/internal/model"
	"tradedash/internal/render"
	"tradedash/internal/upstream"
)

// Subscriber is told which instruments the live feed must carry.
type Subscriber interface {
	Subscribe(keys ...string) error
	Unsubscribe(keys ...string) error
}

// Manager keeps the open sessions and routes live ticks to them.
type Manager struct {
	// subMu orders series changes: a session's key change and the feed
	// refcount change it implies happen as one step.
	subMu sync.Mutex

	mu       sync.RWMutex
	cfg      Config
	sessions map[string]*Session
	feed     Subscriber
	refs     map[string]int // instrument → sessions showing it
}

// NewManager creates a Manager. feed may be nil.
func NewManager(cfg Config, feed Subscriber) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		feed:     feed,
		refs:     make(map[string]int),
	}
}

// Open creates a session with a fresh id.
func (m *Manager) Open(sink render.Sink) *Session {
	return m.OpenWith(uuid.NewString(), sink)
}

// OpenWith creates a session under id, for callers that tag their sink with
// the session id before the session exists.
func (m *Manager) OpenWith(id string, sink render.Sink) *Session {
	m.Close(id)
	s := New(id, sink, m.cfg)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Switch changes the series of s and keeps the feed subscription in step.
func (m *Manager) Switch(ctx context.Context, s *Session, instrument string, tf model.Timeframe, specs []indicator.Spec) error {
	load, err := m.StartSwitch(s, instrument, tf, specs)
	if err != nil {
		return err
	}
	return load(ctx)
}

// StartSwitch makes (instrument, tf) the series of s and moves the feed
// subscription before it returns. The returned load fetches the history and
// may run on another goroutine; requests started later win over it.
func (m *Manager) StartSwitch(s *Session, instrument string, tf model.Timeframe, specs []indicator.Spec) (func(context.Context) error, error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	prev, load, err := s.startSwitch(instrument, tf, specs)
	if err != nil {
		return nil, err
	}
	m.move(prev.InstrumentKey, instrument)
	return load, nil
}

// Backtest runs req in s. The session then follows the backtested instrument.
func (m *Manager) Backtest(ctx context.Context, s *Session, req upstream.BacktestRequest) (*BacktestView, error) {
	run, err := m.StartBacktest(s, req)
	if err != nil {
		return nil, err
	}
	return run(ctx)
}

// StartBacktest is StartSwitch for a backtest of req.
func (m *Manager) StartBacktest(s *Session, req upstream.BacktestRequest) (func(context.Context) (*BacktestView, error), error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	prev, run, err := s.startBacktest(req)
	if err != nil {
		return nil, err
	}
	m.move(prev.InstrumentKey, req.InstrumentKey)
	return run, nil
}

func (m *Manager) move(prev, next string) {
	if prev != next {
		m.retain(next)
		m.release(prev)
	}
}

// Close drops a session and releases its feed subscription.
func (m *Manager) Close(id string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.release(s.Key().InstrumentKey)
	s.Close()
}

// Instruments returns every instrument shown by some session.
func (m *Manager) Instruments() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.refs))
	for k := range m.refs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) retain(instrument string) {
	if instrument == "" {
		return
	}
	m.mu.Lock()
	m.refs[instrument]++
	first := m.refs[instrument] == 1
	m.mu.Unlock()
	if first && m.feed != nil {
		if err := m.feed.Subscribe(instrument); err != nil {
			log.Printf("[session] subscribe %s: %v", instrument, err)
		}
	}
}

func (m *Manager) release(instrument string) {
	if instrument == "" {
		return
	}
	m.mu.Lock()
	m.refs[instrument]--
	last := m.refs[instrument] <= 0
	if last {
		delete(m.refs, instrument)
	}
	m.mu.Unlock()
	if last && m.feed != nil {
		if err := m.feed.Unsubscribe(instrument); err != nil {
			log.Printf("[session] unsubscribe %s: %v", instrument, err)
		}
	}
}

// Dispatch hands a tick to every session. It returns how many charts were
// updated.
func (m *Manager) Dispatch(tick model.Tick) int {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if s.OnTick(tick) {
			n++
		}
	}
	return n
}

// Run dispatches ticks until ctx is cancelled or tickCh is closed.
func (m *Manager) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			m.Dispatch(tick)
		}
	}
}
