package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/common"
)

func (h *Handler) ListModels(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ms, err := h.Svc.ListModels(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50013, "failed to list models")
		return
	}

	common.OK(c, gin.H{"models": ms})
}

type createModelReq struct {
	Slug          string `json:"slug" binding:"required"`
	Name          string `json:"name" binding:"required"`
	Provider      string `json:"provider" binding:"required"`
	ContextWindow int    `json:"context_window"`
	IsPublic      bool   `json:"is_public"`
}

func (h *Handler) CreateModel(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.ContextWindow <= 0 {
		req.ContextWindow = 8192
	}

	m := &chat.Model{
		Slug:          req.Slug,
		Name:          req.Name,
		Provider:      strings.ToLower(req.Provider),
		ContextWindow: req.ContextWindow,
		IsActive:      true,
		IsPublic:      req.IsPublic,
		CreatedBy:     uid,
	}
	if err := h.Svc.CreateModel(c.Request.Context(), m); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50014, "failed to create model")
		return
	}

	common.Created(c, gin.H{"model": m})
}

func (h *Handler) ListAssistants(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	as, err := h.Svc.ListAssistants(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50015, "failed to list assistants")
		return
	}

	common.OK(c, gin.H{"assistants": as})
}

type createAssistantReq struct {
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt" binding:"required"`
	IsPublic     bool   `json:"is_public"`
}

func (h *Handler) CreateAssistant(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createAssistantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	a := &chat.Assistant{
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		IsPublic:     req.IsPublic,
		CreatedBy:    uid,
	}
	if err := h.Svc.CreateAssistant(c.Request.Context(), a); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50016, "failed to create assistant")
		return
	}

	common.Created(c, gin.H{"assistant": a})
}
