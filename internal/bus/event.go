package bus

import "time"

type EventType string

const (
	EventConnected      EventType = "connected"
	EventMessageCreated EventType = "message_created"
	EventStreaming      EventType = "message_streaming"
	EventCompleted      EventType = "message_completed"
	EventError          EventType = "message_error"
	EventTitleGenerated EventType = "title_generated"
	EventSummarized     EventType = "summarized"
	EventPing           EventType = "ping"
)

// EventMessage is the wire form of a chat message carried inside an event.
// It mirrors the persisted row closely enough for clients to merge it into
// their local log without a refetch.
type EventMessage struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	AssistantID *string   `json:"assistant_id,omitempty"`
	ModelID     *string   `json:"model_id,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is the discriminated payload published on a chat channel. Events are
// transient: delivered only to subscribers live at publish time.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Timestamp int64         `json:"timestamp"`
	ChatID    string        `json:"chat_id,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	TempID    string        `json:"temp_id,omitempty"`
	Content   string        `json:"content,omitempty"`
	Message   *EventMessage `json:"message,omitempty"`
	Title     string        `json:"title,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func newEvent(id string, t EventType) *Event {
	return &Event{ID: id, Type: t, Timestamp: time.Now().UnixMilli()}
}

func NewConnected(chatID string) *Event {
	e := newEvent("", EventConnected)
	e.ChatID = chatID
	return e
}

func NewMessageCreated(eventID string, msg *EventMessage) *Event {
	e := newEvent(eventID, EventMessageCreated)
	e.MessageID = msg.ID
	e.Message = msg
	return e
}

// NewStreaming carries the cumulative content of the in-flight assistant
// turn, keyed by its temp id.
func NewStreaming(eventID, tempID, content string) *Event {
	e := newEvent(eventID, EventStreaming)
	e.MessageID = tempID
	e.TempID = tempID
	e.Content = content
	return e
}

func NewCompleted(eventID, tempID string, msg *EventMessage) *Event {
	e := newEvent(eventID, EventCompleted)
	e.MessageID = msg.ID
	e.TempID = tempID
	e.Message = msg
	return e
}

func NewError(eventID, reason string) *Event {
	e := newEvent(eventID, EventError)
	e.Error = reason
	return e
}

func NewTitleGenerated(eventID, title string) *Event {
	e := newEvent(eventID, EventTitleGenerated)
	e.Title = title
	return e
}

func NewSummarized(eventID, summary string) *Event {
	e := newEvent(eventID, EventSummarized)
	e.Summary = summary
	return e
}

func NewPing() *Event {
	return newEvent("", EventPing)
}
