package bus

import (
	"context"
	"log"
	"sync"
)

const memorySubBuffer = 64

// MemoryBus is the in-process backend: a topic-keyed listener registry for
// single-instance deployments.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	events  chan *Event
	once    sync.Once
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, event *Event) error {
	b.mu.RLock()
	subs := b.subs[channel]
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.events <- event:
		default:
			// A stalled subscriber must not block the publishing turn;
			// the client recovers via the persisted log on reconnect.
			log.Printf("bus: dropping event type=%s channel=%s (slow subscriber)", event.Type, channel)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memorySub{
		bus:     b,
		channel: channel,
		events:  make(chan *Event, memorySubBuffer),
	}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()
	return s, nil
}

// SubscriberCount reports live subscriptions on a channel. Test
// instrumentation for disconnect-cleanup checks.
func (b *MemoryBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.once.Do(func() { close(s.events) })
		}
	}
	b.subs = make(map[string][]*memorySub)
	return nil
}

func (s *memorySub) Events() <-chan *Event { return s.events }

func (s *memorySub) Close() error {
	b := s.bus
	b.mu.Lock()
	subs := b.subs[s.channel]
	for i, cur := range subs {
		if cur == s {
			b.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
	b.mu.Unlock()

	s.once.Do(func() { close(s.events) })
	return nil
}
