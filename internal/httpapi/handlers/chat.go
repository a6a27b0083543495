package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/common"
	"github.com/netko/covenote/internal/store/rabbitmq"
)

type createChatReq struct {
	Title       string  `json:"title"`
	AssistantID *string `json:"assistant_id"`
	ModelID     *string `json:"model_id"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	ch, err := h.Svc.CreateChat(c.Request.Context(), uid, req.Title, req.AssistantID, req.ModelID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create chat")
		return
	}

	common.Created(c, gin.H{"chat": ch})
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chats, err := h.Svc.ListChats(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list chats")
		return
	}

	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) GetChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ch, err := h.Svc.GetChat(c.Request.Context(), uid, c.Param("chat_id"))
	if err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load chat")
		return
	}

	common.OK(c, gin.H{"chat": ch})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, err := h.Svc.ListMessages(c.Request.Context(), uid, c.Param("chat_id"))
	if err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			common.Fail(c, http.StatusNotFound, 40404, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list messages")
		return
	}

	common.OK(c, gin.H{"messages": msgs})
}

type postMessageReq struct {
	Content     string  `json:"content" binding:"required"`
	AssistantID *string `json:"assistant_id"`
	ModelID     *string `json:"model_id"`
	EventID     string  `json:"event_id"`
}

// PostChatMessage accepts the user message for a turn. It returns as soon as
// the message is persisted; the assistant's reply streams over the chat's
// event feed, never in this response.
func (h *Handler) PostChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req postMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	turn, err := h.Orch.StartTurn(c.Request.Context(), chat.TurnRequest{
		ChatID:      c.Param("chat_id"),
		UserID:      uid,
		Content:     req.Content,
		AssistantID: req.AssistantID,
		ModelID:     req.ModelID,
		EventID:     req.EventID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrChatNotFound):
			common.Fail(c, http.StatusNotFound, 40404, "chat not found")
		case errors.Is(err, chat.ErrModelNotConfigured):
			common.Fail(c, http.StatusBadRequest, 40005, "model not configured")
		case errors.Is(err, chat.ErrCredentialMissing):
			common.Fail(c, http.StatusBadRequest, 40006, "no credential for provider")
		case errors.Is(err, chat.ErrPersistence):
			common.Fail(c, http.StatusInternalServerError, 50005, "failed to save message")
		default:
			log.Printf("[PostChatMessage] start turn failed uid=%d chat=%s err=%v", uid, c.Param("chat_id"), err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	if h.Rabbit != nil {
		err := h.Rabbit.PublishTurn(c.Request.Context(), rabbitmq.TurnMessage{
			ChatID:    turn.ChatID,
			UserID:    uid,
			MessageID: turn.UserMessage.ID,
		})
		if err != nil {
			// The user message is already durable and echoed; a 5xx
			// here would invite a resubmit and a duplicate row. Keep
			// the 201, fail the turn on the event feed instead.
			log.Printf("[PostChatMessage] enqueue failed uid=%d chat=%s err=%v", uid, turn.ChatID, err)
			dctx := context.WithoutCancel(c.Request.Context())
			eid, _ := common.NewULID()
			if err := h.Bus.Publish(dctx, bus.Channel(turn.ChatID, uid), bus.NewError(eid, "failed to queue assistant reply")); err != nil {
				log.Printf("[PostChatMessage] publish failed chat=%s err=%v", turn.ChatID, err)
			}
			if err := h.Status.SetStatus(dctx, turn.ChatID, bus.StatusError); err != nil {
				log.Printf("[PostChatMessage] status update failed chat=%s err=%v", turn.ChatID, err)
			}
			common.Created(c, gin.H{"message": turn.UserMessage, "dispatched": false})
			return
		}
	} else {
		// The turn outlives this request.
		go h.Orch.RunTurn(context.WithoutCancel(c.Request.Context()), turn)
	}

	common.Created(c, gin.H{"message": turn.UserMessage, "dispatched": true})
}

func (h *Handler) GetChatStatus(c *gin.Context) {
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

	status, err := h.Status.GetStatus(c.Request.Context(), chatID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50007, "failed to load status")
		return
	}

	common.OK(c, gin.H{"chat_id": chatID, "status": status})
}

// CancelChatTurn aborts the chat's in-flight generation, if any. Only works
// with inline dispatch on the instance running the turn; a queued turn on
// another worker keeps going.
func (h *Handler) CancelChatTurn(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	cancelled := h.Orch.Cancel(c.Param("chat_id"), uid)
	common.OK(c, gin.H{"cancelled": cancelled})
}
