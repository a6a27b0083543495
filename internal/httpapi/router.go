package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/common"
	"github.com/netko/covenote/internal/config"
	"github.com/netko/covenote/internal/httpapi/handlers"
	"github.com/netko/covenote/internal/httpapi/middleware"
	"github.com/netko/covenote/internal/store/rabbitmq"
)

func NewRouter(db *gorm.DB, cfg config.Config, b bus.Bus, status bus.StatusStore, rabbit *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, b, status, rabbit)

	r.GET("/ping", h.Ping)

	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chats and turns
	authGroup.POST("/chats", h.CreateChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id", h.GetChat)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.POST("/chats/:chat_id/messages", h.PostChatMessage)
	authGroup.GET("/chats/:chat_id/status", h.GetChatStatus)
	authGroup.POST("/chats/:chat_id/cancel", h.CancelChatTurn)

	// Live event feeds
	authGroup.GET("/chats/:chat_id/messages/stream", h.StreamChatEvents)
	authGroup.GET("/ws", h.ChatWebSocket)

	// Catalog
	authGroup.GET("/models", h.ListModels)
	authGroup.POST("/models", h.CreateModel)
	authGroup.GET("/assistants", h.ListAssistants)
	authGroup.POST("/assistants", h.CreateAssistant)

	// BYOK credentials
	authGroup.PUT("/credentials", h.PutCredential)
	authGroup.GET("/credentials", h.ListCredentials)
	authGroup.DELETE("/credentials/:provider", h.DeleteCredential)

	return r
}
