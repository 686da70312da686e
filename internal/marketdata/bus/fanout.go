// Package bus fans the live tick stream out to independent consumers.
package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"tradedash/internal/model"
)

type subscriber struct {
	name    string
	ch      chan model.Tick
	dropped atomic.Uint64
}

// offer hands t to the subscriber without blocking.
func (s *subscriber) offer(t model.Tick) bool {
	select {
	case s.ch <- t:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// FanOut copies every tick of one input channel to named subscriber
// channels. A full subscriber loses the tick; the others still get it.
type FanOut struct {
	mu      sync.RWMutex
	subs    []*subscriber
	bufSize int

	// OnDrop is called when a tick is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut whose subscriber channels buffer bufSize ticks.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a consumer called name. Subscribe before Run; the
// returned channel is closed when Run returns.
func (f *FanOut) Subscribe(name string) <-chan model.Tick {
	s := &subscriber{name: name, ch: make(chan model.Tick, f.bufSize)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return s.ch
}

// Run distributes input until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Tick) {
	defer f.closeAll()
	for {
		var (
			t  model.Tick
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case t, ok = <-input:
			if !ok {
				return
			}
		}
		f.mu.RLock()
		for _, s := range f.subs {
			if s.offer(t) {
				continue
			}
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				log.Printf("[bus] %s is full, dropped tick for %s", s.name, t.InstrumentKey)
			}
		}
		f.mu.RUnlock()
	}
}

func (f *FanOut) closeAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		close(s.ch)
	}
}

// ChannelStat is the queue depth and drop count of one subscriber.
type ChannelStat struct {
	Name    string `json:"name"`
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

// ChannelStats reports every subscriber in subscription order.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ChannelStat, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch), Dropped: s.dropped.Load()})
	}
	return out
}
