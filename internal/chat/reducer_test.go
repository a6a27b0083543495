package chat

import (
	"testing"

	"github.com/netko/covenote/internal/bus"
)

func assistantEvent(id, content string) *bus.EventMessage {
	return &bus.EventMessage{ID: id, ChatID: "c1", Role: RoleAssistant, Content: content}
}

func TestReducer_OptimisticReconciliation(t *testing.T) {
	r := NewReducer()
	r.AddOptimistic("local-1", "Hello", "ev-1")

	// Duplicate optimistic insert is a no-op.
	r.AddOptimistic("local-1b", "Hello", "ev-1")
	if got := len(r.Entries()); got != 1 {
		t.Fatalf("expected 1 entry after duplicate optimistic add, got %d", got)
	}

	r.Apply(bus.NewMessageCreated("ev-1", &bus.EventMessage{
		ID: "srv-1", ChatID: "c1", Role: RoleUser, Content: "Hello", EventID: "ev-1",
	}))

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("reconciliation must not duplicate, got %d entries", len(entries))
	}
	if entries[0].ID != "srv-1" || entries[0].Optimistic {
		t.Fatalf("optimistic entry should adopt the server id: %+v", entries[0])
	}
}

func TestReducer_StreamingReplacesNotAppends(t *testing.T) {
	r := NewReducer()
	r.Apply(bus.NewMessageCreated("ev-a", assistantEvent("temp-1", "")))
	r.Apply(bus.NewStreaming("ev-b", "temp-1", "Hel"))
	r.Apply(bus.NewStreaming("ev-c", "temp-1", "Hello"))

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Content != "Hello" {
		t.Fatalf("cumulative payload must replace, got %q", entries[0].Content)
	}
	if !entries[0].Streaming {
		t.Fatalf("entry should be marked streaming")
	}
}

func TestReducer_MidStreamSubscriber(t *testing.T) {
	r := NewReducer()
	// No created event seen; the first frame is mid-stream.
	r.Apply(bus.NewStreaming("ev-b", "temp-1", "Hello wor"))

	entries := r.Entries()
	if len(entries) != 1 || entries[0].Content != "Hello wor" {
		t.Fatalf("mid-stream join must synthesize the placeholder: %+v", entries)
	}
}

func TestReducer_CompletionIsIdempotent(t *testing.T) {
	r := NewReducer()
	r.Apply(bus.NewMessageCreated("ev-a", assistantEvent("temp-1", "")))
	r.Apply(bus.NewStreaming("ev-b", "temp-1", "Hi"))

	done := bus.NewCompleted("ev-d", "temp-1", assistantEvent("srv-9", "Hi there"))
	r.Apply(done)
	r.Apply(done) // replay

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("replayed completion must not duplicate, got %d", len(entries))
	}
	if entries[0].ID != "srv-9" || entries[0].Content != "Hi there" || entries[0].Streaming {
		t.Fatalf("unexpected final entry: %+v", entries[0])
	}
}

func TestReducer_ErrorDropsPlaceholder(t *testing.T) {
	r := NewReducer()
	r.Apply(bus.NewMessageCreated("ev-u", &bus.EventMessage{ID: "srv-1", Role: RoleUser, Content: "q"}))
	r.Apply(bus.NewMessageCreated("ev-a", assistantEvent("temp-1", "")))
	r.Apply(bus.NewStreaming("ev-b", "temp-1", "par"))
	r.Apply(bus.NewError("ev-e", "upstream failed"))

	entries := r.Entries()
	if len(entries) != 1 || entries[0].ID != "srv-1" {
		t.Fatalf("error must drop only the streaming placeholder: %+v", entries)
	}
}

func TestReducer_IgnoresHeartbeats(t *testing.T) {
	r := NewReducer()
	r.Apply(bus.NewPing())
	r.Apply(bus.NewConnected("c1"))
	if len(r.Entries()) != 0 {
		t.Fatalf("pings and connects must not create entries")
	}
}

func TestReducer_SeedThenLiveTail(t *testing.T) {
	r := NewReducer()
	r.Seed([]Message{
		{ID: "m1", Role: RoleUser, Content: "q", EventID: "ev-1"},
		{ID: "m2", Role: RoleAssistant, Content: "a", EventID: "ev-2"},
	})

	// The catch-up refetch overlaps the live feed; replayed created events
	// for seeded rows are dropped.
	r.Apply(bus.NewMessageCreated("ev-2", &bus.EventMessage{ID: "m2", Role: RoleAssistant, Content: "a"}))

	if got := len(r.Entries()); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}
