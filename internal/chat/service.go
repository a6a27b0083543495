package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/netko/covenote/internal/common"
)

// Service covers the non-streaming chat surface: chat CRUD, history reads and
// the assistant/model catalog. Turn execution lives in Orchestrator.
type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateChat(ctx context.Context, userID uint64, title string, assistantID, modelID *string) (*Chat, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = DefaultTitle
	}
	c := &Chat{
		ID:          id,
		Title:       title,
		AssistantID: assistantID,
		ModelID:     modelID,
		CreatedBy:   userID,
	}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat enforces ownership. A chat owned by someone else reports
// ErrChatNotFound rather than a permission error, so chat IDs cannot be
// enumerated across tenants.
func (s *Service) GetChat(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if c.CreatedBy != userID {
		return nil, ErrChatNotFound
	}
	return c, nil
}

func (s *Service) ListChats(ctx context.Context, userID uint64) ([]Chat, error) {
	return s.repo.ListChats(ctx, userID)
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, chatID string) ([]Message, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, chatID)
}

func (s *Service) ListAssistants(ctx context.Context, userID uint64) ([]Assistant, error) {
	return s.repo.ListAssistants(ctx, userID)
}

func (s *Service) CreateAssistant(ctx context.Context, a *Assistant) error {
	if a.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return s.repo.CreateAssistant(ctx, a)
}

func (s *Service) ListModels(ctx context.Context, userID uint64) ([]Model, error) {
	return s.repo.ListModels(ctx, userID)
}

func (s *Service) CreateModel(ctx context.Context, m *Model) error {
	if m.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		m.ID = id
	}
	return s.repo.CreateModel(ctx, m)
}
