package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/config"
	"github.com/netko/covenote/internal/httpapi/middleware"
	"github.com/netko/covenote/internal/models"
	"github.com/netko/covenote/internal/store/rabbitmq"
)

type failingDispatcher struct{}

func (failingDispatcher) PublishTurn(ctx context.Context, msg rabbitmq.TurnMessage) error {
	_ = ctx
	_ = msg
	return errors.New("broker unreachable")
}

type recordingDispatcher struct {
	published []rabbitmq.TurnMessage
}

func (d *recordingDispatcher) PublishTurn(ctx context.Context, msg rabbitmq.TurnMessage) error {
	_ = ctx
	d.published = append(d.published, msg)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:          "test-secret",
		ByokKey:            strings.Repeat("k", 32),
		SummarizeThreshold: 0.75,
		SummarizeKeepTail:  10,
	}
}

func newHandlerEnv(t *testing.T) (*Handler, *bus.MemoryBus, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &chat.Chat{}, &chat.Message{}, &chat.Assistant{}, &chat.Model{}, &byok.Credential{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	h := NewHandler(db, testConfig(), b, bus.NewMemoryStatusStore(), nil)
	return h, b, db
}

func seedOllamaChat(t *testing.T, db *gorm.DB, userID uint64) *chat.Chat {
	t.Helper()
	repo := chat.NewRepo(db)
	m := &chat.Model{
		ID:            "model-ollama",
		Slug:          "llama3",
		Name:          "Llama 3",
		Provider:      "ollama", // keyless, no credential needed
		ContextWindow: 8192,
		IsActive:      true,
		IsPublic:      true,
	}
	if err := repo.CreateModel(context.Background(), m); err != nil {
		t.Fatalf("create model: %v", err)
	}
	c := &chat.Chat{
		ID:        "01TESTCHATHANDLER000000000",
		Title:     chat.DefaultTitle,
		ModelID:   &m.ID,
		CreatedBy: userID,
	}
	if err := repo.CreateChat(context.Background(), c); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func postMessage(t *testing.T, h *Handler, chatID string, userID uint64, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/chats/"+chatID+"/messages", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "chat_id", Value: chatID}}
	c.Set(middleware.UserIDKey, userID)
	h.PostChatMessage(c)
	return w
}

func TestPostChatMessage_EnqueueFailureDoesNotInviteResubmit(t *testing.T) {
	h, b, db := newHandlerEnv(t)
	h.Rabbit = failingDispatcher{}
	c := seedOllamaChat(t, db, 1)

	sub, err := b.Subscribe(context.Background(), bus.Channel(c.ID, 1))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	w := postMessage(t, h, c.ID, 1, `{"content":"hello"}`)

	// The user message is durable; a 5xx would make the client resubmit
	// it and duplicate the row.
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"dispatched":false`) {
		t.Fatalf("response must flag the failed dispatch: %s", w.Body.String())
	}

	var count int64
	if err := db.Model(&chat.Message{}).Where("chat_id = ?", c.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly the user message persisted, got %d rows", count)
	}

	// Subscribers see the echoed user message, then a terminal error.
	sawError := false
	deadline := time.After(2 * time.Second)
	for !sawError {
		select {
		case e := <-sub.Events():
			if e.Type == bus.EventError {
				sawError = true
			}
		case <-deadline:
			t.Fatalf("no message_error published for the undispatched turn")
		}
	}

	status, err := h.Status.GetStatus(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != bus.StatusError {
		t.Fatalf("undispatched turn must leave status %q, got %q", bus.StatusError, status)
	}
}

func TestPostChatMessage_DispatchesTurnReference(t *testing.T) {
	h, _, db := newHandlerEnv(t)
	rec := &recordingDispatcher{}
	h.Rabbit = rec
	c := seedOllamaChat(t, db, 1)

	w := postMessage(t, h, c.ID, 1, `{"content":"hello"}`)
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"dispatched":true`) {
		t.Fatalf("response must confirm dispatch: %s", w.Body.String())
	}

	if len(rec.published) != 1 {
		t.Fatalf("expected one queued turn, got %d", len(rec.published))
	}
	msg := rec.published[0]
	if msg.ChatID != c.ID || msg.UserID != 1 || msg.MessageID == "" {
		t.Fatalf("queued turn reference incomplete: %+v", msg)
	}

	var stored chat.Message
	if err := db.First(&stored, "id = ?", msg.MessageID).Error; err != nil {
		t.Fatalf("queued message id must reference the persisted row: %v", err)
	}
}
