package handlers

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/config"
	"github.com/netko/covenote/internal/llm"
	"github.com/netko/covenote/internal/store/rabbitmq"
)

// TurnDispatcher hands a validated turn to an out-of-process runner.
// Satisfied by *rabbitmq.Publisher.
type TurnDispatcher interface {
	PublishTurn(ctx context.Context, msg rabbitmq.TurnMessage) error
}

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Bus    bus.Bus
	Status bus.StatusStore
	Keys   *byok.Store
	Svc    *chat.Service
	Orch   *chat.Orchestrator

	// Rabbit is set only when TURN_DISPATCH=rabbit; turns then run in
	// cmd/worker instead of a request-spawned goroutine.
	Rabbit TurnDispatcher
}

func NewHandler(db *gorm.DB, cfg config.Config, b bus.Bus, status bus.StatusStore, rabbit *rabbitmq.Publisher) *Handler {
	repo := chat.NewRepo(db)

	reg := llm.NewRegistry()
	reg.Register("openrouter", func(ctx context.Context, model, apiKey string) (llm.Provider, error) {
		return llm.NewOpenRouterProvider(cfg.OpenRouterBaseURL, apiKey, model), nil
	})
	// Ollama is local, no credential needed.
	reg.RegisterKeyless("ollama", func(ctx context.Context, model, apiKey string) (llm.Provider, error) {
		return llm.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})

	cipher, err := byok.NewCipher(cfg.ByokKey)
	if err != nil {
		panic(fmt.Sprintf("bad BYOK_KEY: %v", err))
	}
	keys := byok.NewStore(db, cipher)

	h := &Handler{
		DB:     db,
		Cfg:    cfg,
		Bus:    b,
		Status: status,
		Keys:   keys,
		Svc:    chat.NewService(repo),
		Orch:   chat.NewOrchestrator(repo, reg, b, keys, status, cfg.SummarizeThreshold, cfg.SummarizeKeepTail),
	}
	// A typed nil inside a non-nil interface would defeat the dispatch
	// check in PostChatMessage.
	if rabbit != nil {
		h.Rabbit = rabbit
	}
	return h
}
