package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/netko/covenote/internal/auth"
	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/config"
	"github.com/netko/covenote/internal/models"
)

func newRouterEnv(t *testing.T) (*gin.Engine, string, string) {
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

	cfg := config.Config{
		JWTSecret:          "test-secret",
		ByokKey:            strings.Repeat("k", 32),
		SummarizeThreshold: 0.75,
		SummarizeKeepTail:  10,
	}

	user := models.User{Email: "a@b.c", Username: "tester", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := auth.SignJWT(user.ID, cfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}

	c := &chat.Chat{ID: "01TESTCHATROUTER0000000000", Title: chat.DefaultTitle, CreatedBy: user.ID}
	if err := chat.NewRepo(db).CreateChat(context.Background(), c); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	r := NewRouter(db, cfg, b, bus.NewMemoryStatusStore(), nil)
	return r, token, c.ID
}

func TestStreamRouteRequiresAuth(t *testing.T) {
	r, _, chatID := newRouterEnv(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/chats/"+chatID+"/messages/stream", nil)
	r.ServeHTTP(w, req)

	// 401, not 404: the route is mounted, only the token is missing.
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on the stream route, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStreamRouteSendsConnectedFirst(t *testing.T) {
	r, token, chatID := newRouterEnv(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/chats/"+chatID+"/messages/stream?token="+token, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected an event-stream, got %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if line != "event: connected" {
			t.Fatalf("first frame must be the connected event, got %q", line)
		}
		return
	}
	t.Fatalf("no frame received: %v", sc.Err())
}

func TestWebSocketSendsConnectedFrame(t *testing.T) {
	r, token, chatID := newRouterEnv(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws?threadId=" + chatID + "&token=" + token + "&lastEventId=01SOMEEVENT000000000000000"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e bus.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if e.Type != bus.EventConnected {
		t.Fatalf("first frame must be connected, got %s", e.Type)
	}
	if e.ChatID != chatID {
		t.Fatalf("connected frame must name the chat, got %q", e.ChatID)
	}
}
