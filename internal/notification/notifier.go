// Package notification delivers operational alerts (feed outages, Redis
// circuit trips, captured closing prices) to external channels.
package notification

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"ts"`
}

// Notifier delivers an alert to one channel.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, a Alert) error {
	log.Printf("[notify] [%s] %s: %s", a.Level, a.Title, a.Message)
	return nil
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher queues alerts and delivers them off the caller's goroutine.
// An alert whose title was delivered less than Cooldown ago is dropped.
type Dispatcher struct {
	next     Notifier
	queue    chan Alert
	cooldown time.Duration
	timeout  time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewDispatcher creates a Dispatcher in front of n.
func NewDispatcher(n Notifier, cooldown time.Duration) *Dispatcher {
	return &Dispatcher{
		next:     n,
		queue:    make(chan Alert, 64),
		cooldown: cooldown,
		timeout:  sendTimeout,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify enqueues an alert. Never blocks; reports whether it was queued.
func (d *Dispatcher) Notify(level Level, title, message string) bool {
	now := d.now()
	d.mu.Lock()
	if t, ok := d.last[title]; ok && now.Sub(t) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.last[title] = now
	d.mu.Unlock()

	select {
	case d.queue <- Alert{Level: level, Title: title, Message: message, At: now}:
		return true
	default:
		log.Printf("[notify] queue full, dropping %q", title)
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.next.Send(sendCtx, a); err != nil {
				log.Printf("[notify] %q: %v", a.Title, err)
			}
			cancel()
		}
	}
}
