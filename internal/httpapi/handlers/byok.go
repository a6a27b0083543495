package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/common"
)

type putCredentialReq struct {
	Provider string `json:"provider" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
}

// PutCredential stores a provider key for the calling user. The key is
// write-only: it never appears in any response after this call.
func (h *Handler) PutCredential(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req putCredentialReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" || strings.TrimSpace(req.APIKey) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "provider and api_key required")
		return
	}

	cred, err := h.Keys.Upsert(c.Request.Context(), uid, req.Provider, req.APIKey)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "failed to store credential")
		return
	}

	common.OK(c, gin.H{"credential": cred})
}

func (h *Handler) ListCredentials(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	creds, err := h.Keys.List(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50011, "failed to list credentials")
		return
	}

	common.OK(c, gin.H{"credentials": creds})
}

func (h *Handler) DeleteCredential(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	provider := strings.ToLower(c.Param("provider"))
	if err := h.Keys.Delete(c.Request.Context(), uid, provider); err != nil {
		if errors.Is(err, byok.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40405, "credential not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50012, "failed to delete credential")
		return
	}

	common.OK(c, gin.H{"deleted": true})
}
