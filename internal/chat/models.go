package chat

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTitle is the placeholder shown until the first exchange completes
// and title generation rewrites it.
const DefaultTitle = "New chat"

type Chat struct {
	ID          string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	Title       string    `gorm:"type:text;not null" json:"title"`
	AssistantID *string   `gorm:"type:varchar(36)" json:"assistant_id"`
	ModelID     *string   `gorm:"type:varchar(36)" json:"model_id"`
	CreatedBy   uint64    `gorm:"index;not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

// Metadata is a free-form key/value map serialized as JSON text. Used to mark
// summary messages and similar bookkeeping.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("chat: unsupported metadata source type")
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Message is one entry in a chat's append-only log. Rows are never mutated
// after insert; summarization adds a new system row instead of rewriting
// history.
type Message struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID      string    `gorm:"type:varchar(26);not null;index" json:"chat_id"`
	Role        string    `gorm:"type:varchar(16);not null" json:"role"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Metadata    Metadata  `gorm:"type:text" json:"metadata,omitempty"`
	AssistantID *string   `gorm:"type:varchar(36)" json:"assistant_id"`
	ModelID     *string   `gorm:"type:varchar(36)" json:"model_id"`
	// EventID correlates the persisted row with its bus event so clients
	// can reconcile optimistic entries without duplication.
	EventID   string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Assistant is a configurable persona: its system prompt is prepended to the
// provider message list.
type Assistant struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(128);not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	SystemPrompt string    `gorm:"type:text;not null" json:"system_prompt"`
	IsPublic     bool      `gorm:"not null;default:false" json:"is_public"`
	CreatedBy    uint64    `gorm:"index" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Assistant) TableName() string { return "llm_assistants" }

// Model maps a user-facing model entry to a provider and its slug there.
type Model struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Slug          string    `gorm:"type:varchar(128);not null" json:"slug"`
	Name          string    `gorm:"type:varchar(128);not null" json:"name"`
	Provider      string    `gorm:"type:varchar(32);not null" json:"provider"`
	ContextWindow int       `gorm:"not null;default:8192" json:"context_window"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	IsPublic      bool      `gorm:"not null;default:false" json:"is_public"`
	CreatedBy     uint64    `gorm:"index" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Model) TableName() string { return "llm_models" }
