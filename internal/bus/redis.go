package bus

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the networked backend: go-redis pub/sub, one Redis channel per
// bus channel. Semantics match MemoryBus so the orchestrator stays
// backend-agnostic.
type RedisBus struct {
	client *redis.Client
}

type redisSub struct {
	pubsub *redis.PubSub
	events chan *Event
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so no event
	// published after Subscribe is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s := &redisSub{
		pubsub: pubsub,
		events: make(chan *Event, memorySubBuffer),
	}

	go func() {
		defer close(s.events)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("bus: bad payload on %s: %v", channel, err)
				continue
			}
			s.events <- &event
		}
	}()

	return s, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (s *redisSub) Events() <-chan *Event { return s.events }

func (s *redisSub) Close() error {
	// Closing the PubSub terminates Channel(), which closes s.events.
	return s.pubsub.Close()
}
