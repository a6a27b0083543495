package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBus_FanOut(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ch := Channel("chat1", 7)
	sub1, err := b.Subscribe(context.Background(), ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub2, err := b.Subscribe(context.Background(), ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), ch, NewPing()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case e := <-sub.Events():
			if e.Type != EventPing {
				t.Fatalf("sub%d: unexpected type %s", i+1, e.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d: no event delivered", i+1)
		}
	}
}

func TestMemoryBus_ChannelIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub, _ := b.Subscribe(context.Background(), Channel("chat1", 1))
	_ = b.Publish(context.Background(), Channel("chat2", 1), NewPing())
	_ = b.Publish(context.Background(), Channel("chat1", 2), NewPing())

	select {
	case e := <-sub.Events():
		t.Fatalf("event leaked across channels: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_CloseRemovesSubscriber(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ch := Channel("chat1", 1)
	sub1, _ := b.Subscribe(context.Background(), ch)
	sub2, _ := b.Subscribe(context.Background(), ch)
	if got := b.SubscriberCount(ch); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	if err := sub1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := b.SubscriberCount(ch); got != 1 {
		t.Fatalf("expected 1 subscriber after close, got %d", got)
	}

	// Closed subscription's channel is closed, no goroutine leak.
	if _, ok := <-sub1.Events(); ok {
		t.Fatalf("closed subscription must have a closed events channel")
	}

	// Double close is safe.
	if err := sub1.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_ = b.Publish(context.Background(), ch, NewPing())
	select {
	case e := <-sub2.Events():
		if e.Type != EventPing {
			t.Fatalf("unexpected type %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("remaining subscriber lost delivery")
	}
}

func TestMemoryBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ch := Channel("chat1", 1)
	_, _ = b.Subscribe(context.Background(), ch) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < memorySubBuffer*2; i++ {
			_ = b.Publish(context.Background(), ch, NewPing())
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}
