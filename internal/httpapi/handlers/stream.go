package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/common"
)

const heartbeatInterval = 30 * time.Second

// StreamChatEvents live-tails a chat's event feed over SSE. The first frame
// is always a connected event; after that, bus events are relayed verbatim
// with a comment heartbeat to keep proxies from closing the connection.
//
// The feed carries no backlog. Clients fetch history over the REST log and
// attach here for everything that happens next.
func (h *Handler) StreamChatEvents(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := c.Param("chat_id")
	if _, err := h.Svc.GetChat(c.Request.Context(), uid, chatID); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load chat")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50008, "streaming unsupported")
		return
	}

	ctx := c.Request.Context()
	sub, err := h.Bus.Subscribe(ctx, bus.Channel(chatID, uid))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50009, "failed to subscribe")
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	writeEvent := func(e *bus.Event) bool {
		b, err := json.Marshal(e)
		if err != nil {
			log.Printf("[StreamChatEvents] marshal failed chat=%s err=%v", chatID, err)
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", e.Type, b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(bus.NewConnected(chatID)) {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if !writeEvent(e) {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
