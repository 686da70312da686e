package redis

import (
	"context"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradedash/internal/render"
)

// publishClient is the subset of *goredis.Client used by Publisher.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

type pendingMessage struct {
	channel string
	payload []byte
}

// Publisher publishes chart envelopes through a circuit breaker. While the
// breaker is open messages are buffered (bounded, oldest dropped) and
// flushed in order once a publish succeeds again.
type Publisher struct {
	client  publishClient
	cb      *CircuitBreaker
	timeout time.Duration

	mu      sync.Mutex
	buffer  []pendingMessage
	maxBuf  int
	flushMu sync.Mutex

	// Metrics hooks (optional)
	OnBuffer  func()
	OnFlush   func(n int)
	OnPublish func(elapsed time.Duration)
}

// NewPublisher wraps client. maxBuffer bounds the messages held while the
// breaker is open (default 10000).
func NewPublisher(client publishClient, cb *CircuitBreaker, maxBuffer int) *Publisher {
	if maxBuffer <= 0 {
		maxBuffer = 10000
	}
	return &Publisher{
		client:  client,
		cb:      cb,
		timeout: 2 * time.Second,
		maxBuf:  maxBuffer,
	}
}

// Publish sends payload on channel. It never blocks on an open breaker.
// Buffered messages go out first so subscribers see envelopes in order.
func (p *Publisher) Publish(channel string, payload []byte) {
	if p.Pending() > 0 {
		p.flush()
		if p.Pending() > 0 {
			p.enqueue(channel, payload)
			return
		}
	}
	if err := p.send(channel, payload); err != nil {
		p.enqueue(channel, payload)
		if err != ErrCircuitOpen {
			log.Printf("[redis] publish %s failed: %v", channel, err)
		}
	}
}

// Sink returns a render.Sink that publishes every call for session.
func (p *Publisher) Sink(session string) render.Sink {
	channel := ChartChannel(session)
	return render.NewJSONSink(session, func(msg []byte) {
		p.Publish(channel, msg)
	})
}

// Pending returns the number of buffered messages.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) send(channel string, payload []byte) error {
	return p.cb.Execute(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		start := time.Now()
		err := p.client.Publish(ctx, channel, payload).Err()
		if p.OnPublish != nil {
			p.OnPublish(time.Since(start))
		}
		return err
	})
}

func (p *Publisher) enqueue(channel string, payload []byte) {
	p.mu.Lock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, pendingMessage{channel: channel, payload: payload})
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered messages in order, stopping at the first failure.
func (p *Publisher) flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	sent := 0
	for i, m := range pending {
		if err := p.send(m.channel, m.payload); err != nil {
			p.mu.Lock()
			p.buffer = append(append([]pendingMessage{}, pending[i:]...), p.buffer...)
			if over := len(p.buffer) - p.maxBuf; over > 0 {
				p.buffer = p.buffer[over:]
			}
			p.mu.Unlock()
			break
		}
		sent++
	}
	if sent > 0 {
		log.Printf("[redis] flushed %d buffered messages", sent)
		if p.OnFlush != nil {
			p.OnFlush(sent)
		}
	}
}
