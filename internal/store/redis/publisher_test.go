package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/model"
	"tradedash/internal/render"
)

type fakePubClient struct {
	mu   sync.Mutex
	down bool
	sent []string
}

func (f *fakePubClient) Publish(_ context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return goredis.NewIntResult(0, errors.New("connection refused"))
	}
	f.sent = append(f.sent, channel+" "+string(message.([]byte)))
	return goredis.NewIntResult(1, nil)
}

func (f *fakePubClient) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func TestPublisher_SinkPublishesEnvelopes(t *testing.T) {
	client := &fakePubClient{}
	p := NewPublisher(client, NewCircuitBreaker(3, time.Second), 10)

	sink := p.Sink("abc")
	sink.Status("loaded")
	sink.UpsertCandle(model.Candle{Time: 60, Open: 1, High: 2, Low: 1, Close: 2}, true)

	require.Len(t, client.sent, 2)
	assert.Contains(t, client.sent[0], "pub:chart:abc ")

	var env render.Envelope
	raw := client.sent[1][len("pub:chart:abc "):]
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, render.MsgCandle, env.Type)
	assert.Equal(t, "abc", env.Session)
	assert.True(t, env.Appended)
}

func TestPublisher_BuffersWhileOpenAndFlushesInOrder(t *testing.T) {
	client := &fakePubClient{down: true}
	cb, clk := newBreaker(1, time.Second)
	p := NewPublisher(client, cb, 10)
	buffered, flushed := 0, 0
	p.OnBuffer = func() { buffered++ }
	p.OnFlush = func(n int) { flushed += n }

	p.Publish("c", []byte("1"))
	require.Equal(t, StateOpen, cb.CurrentState())
	p.Publish("c", []byte("2"))
	assert.Equal(t, 2, p.Pending())
	assert.Equal(t, 2, buffered)

	client.setDown(false)
	clk.advance(time.Second)
	p.Publish("c", []byte("3"))

	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, []string{"c 1", "c 2", "c 3"}, client.sent)
	assert.Equal(t, 2, flushed)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestPublisher_BufferDropsOldest(t *testing.T) {
	client := &fakePubClient{down: true}
	cb, _ := newBreaker(1, time.Hour)
	p := NewPublisher(client, cb, 2)

	for _, m := range []string{"1", "2", "3"} {
		p.Publish("c", []byte(m))
	}
	require.Equal(t, 2, p.Pending())
	assert.Equal(t, "2", string(p.buffer[0].payload))
}
