package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth is the JWT, not the Origin header. Browsers supply tokens via
	// the query string since WS clients cannot set headers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// ChatWebSocket is the WebSocket flavor of the subscription gateway. It
// serves the same event feed as the SSE endpoint, one chat per connection,
// selected by the threadId query parameter.
func (h *Handler) ChatWebSocket(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := c.Query("threadId")
	if chatID == "" {
		common.Fail(c, http.StatusBadRequest, 10005, "threadId required")
		return
	}
	// Reconnect hint only. The feed carries no backlog, so the client
	// refetches the message log regardless; the hint is logged to make
	// reconnect gaps diagnosable.
	if last := c.Query("lastEventId"); last != "" {
		log.Printf("[ChatWebSocket] reconnect chat=%s after_event=%s", chatID, last)
	}
	if _, err := h.Svc.GetChat(c.Request.Context(), uid, chatID); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load chat")
		return
	}

	sub, err := h.Bus.Subscribe(c.Request.Context(), bus.Channel(chatID, uid))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50009, "failed to subscribe")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		// Upgrade already wrote the HTTP error.
		return
	}

	done := make(chan struct{})

	// Reader pump: we never expect client frames, but reading is what
	// surfaces close frames and pong replies.
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		conn.Close()
	}()

	writeJSON := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			return false
		}
		return true
	}

	if !writeJSON(bus.NewConnected(chatID)) {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if !writeJSON(e) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[ChatWebSocket] ping failed chat=%s uid=%d err=%v", chatID, uid, err)
				return
			}

		case <-done:
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}
