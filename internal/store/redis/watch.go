package redis

import (
	"context"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// Watch subscribes to a session's chart channel and hands every published
// envelope to fn. Blocks until ctx is cancelled or the subscription closes.
func Watch(ctx context.Context, client *goredis.Client, session string, fn func(msg []byte)) error {
	channel := ChartChannel(session)
	ps := client.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	log.Printf("[redis] watching %s", channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn([]byte(msg.Payload))
		}
	}
}
