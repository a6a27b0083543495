package chat

import (
	"github.com/netko/covenote/internal/bus"
)

// Entry is one row of a client-side message log as maintained by Reducer.
type Entry struct {
	ID         string
	Role       string
	Content    string
	EventID    string
	Streaming  bool
	Optimistic bool
}

// Reducer folds the chat event feed into an ordered message log the way a
// client renderer would. It exists server-side for two reasons: it documents
// the contract the event stream must satisfy, and the orchestrator tests run
// real event sequences through it to prove the ordering invariant end to end.
//
// Duplicate delivery is tolerated everywhere: the bus promises at-most-once
// per subscriber, but a client that reconnects and refetches may replay.
type Reducer struct {
	entries []Entry
	byID    map[string]int // message id or temp id -> index in entries
	byEvent map[string]int // event correlation id -> index in entries
}

func NewReducer() *Reducer {
	return &Reducer{
		byID:    make(map[string]int),
		byEvent: make(map[string]int),
	}
}

// Seed installs a fetched history snapshot, replacing any prior state.
func (r *Reducer) Seed(history []Message) {
	r.entries = r.entries[:0]
	clear(r.byID)
	clear(r.byEvent)
	for _, m := range history {
		r.append(Entry{ID: m.ID, Role: m.Role, Content: m.Content, EventID: m.EventID})
	}
}

// AddOptimistic inserts a locally echoed user message before the server
// round-trip completes. The eventID must match the one submitted with the
// turn so the server's message_created reconciles instead of duplicating.
func (r *Reducer) AddOptimistic(tempID, content, eventID string) {
	if _, ok := r.byEvent[eventID]; ok {
		return
	}
	r.append(Entry{ID: tempID, Role: RoleUser, Content: content, EventID: eventID, Optimistic: true})
}

// Apply folds one event into the log. Unknown and heartbeat event types are
// ignored, so clients survive protocol additions.
func (r *Reducer) Apply(e *bus.Event) {
	switch e.Type {
	case bus.EventMessageCreated:
		r.applyCreated(e)
	case bus.EventStreaming:
		r.applyStreaming(e)
	case bus.EventCompleted:
		r.applyCompleted(e)
	case bus.EventSummarized:
		if e.ID != "" {
			if _, ok := r.byEvent[e.ID]; ok {
				return
			}
			r.append(Entry{ID: e.ID, Role: RoleSystem, Content: summaryPrefix + e.Summary, EventID: e.ID})
		}
	case bus.EventError:
		// Drop the in-flight streaming placeholder, if any. The user
		// message stays for resubmission.
		r.dropStreaming()
	}
}

// Entries returns the current log in order.
func (r *Reducer) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Reducer) applyCreated(e *bus.Event) {
	m := e.Message
	if m == nil {
		return
	}
	if _, ok := r.byID[m.ID]; ok {
		return
	}
	// Reconcile an optimistic entry carrying the same correlation id:
	// keep its position, adopt the server id.
	if idx, ok := r.byEvent[e.ID]; ok && e.ID != "" {
		old := r.entries[idx].ID
		r.entries[idx] = Entry{ID: m.ID, Role: m.Role, Content: m.Content, EventID: e.ID}
		delete(r.byID, old)
		r.byID[m.ID] = idx
		return
	}
	r.append(Entry{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		EventID:   e.ID,
		Streaming: m.Role == RoleAssistant && m.Content == "",
	})
}

func (r *Reducer) applyStreaming(e *bus.Event) {
	idx, ok := r.byID[e.TempID]
	if !ok {
		// Mid-stream subscriber: synthesize the placeholder. Content is
		// cumulative so nothing prior is lost.
		r.append(Entry{ID: e.TempID, Role: RoleAssistant, Content: e.Content, Streaming: true})
		return
	}
	// Cumulative payload replaces, never appends.
	r.entries[idx].Content = e.Content
	r.entries[idx].Streaming = true
}

func (r *Reducer) applyCompleted(e *bus.Event) {
	m := e.Message
	if m == nil {
		return
	}
	if idx, ok := r.byID[e.TempID]; ok {
		r.entries[idx] = Entry{ID: m.ID, Role: m.Role, Content: m.Content, EventID: e.ID}
		delete(r.byID, e.TempID)
		r.byID[m.ID] = idx
		if e.ID != "" {
			r.byEvent[e.ID] = idx
		}
		return
	}
	if idx, ok := r.byID[m.ID]; ok {
		// Replayed completion: idempotent overwrite.
		r.entries[idx].Content = m.Content
		r.entries[idx].Streaming = false
		return
	}
	r.append(Entry{ID: m.ID, Role: m.Role, Content: m.Content, EventID: e.ID})
}

func (r *Reducer) dropStreaming() {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Streaming {
			delete(r.byID, r.entries[i].ID)
			if r.entries[i].EventID != "" {
				delete(r.byEvent, r.entries[i].EventID)
			}
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.reindex()
			return
		}
	}
}

func (r *Reducer) append(e Entry) {
	r.entries = append(r.entries, e)
	idx := len(r.entries) - 1
	r.byID[e.ID] = idx
	if e.EventID != "" {
		r.byEvent[e.EventID] = idx
	}
}

func (r *Reducer) reindex() {
	clear(r.byID)
	clear(r.byEvent)
	for i, e := range r.entries {
		r.byID[e.ID] = i
		if e.EventID != "" {
			r.byEvent[e.EventID] = i
		}
	}
}
