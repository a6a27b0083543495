package bus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Generation status of a chat's latest turn. Advisory: clients poll it after
// reconnecting to decide whether a turn is still in flight.
const (
	StatusGenerating = "generating"
	StatusComplete   = "complete"
	StatusError      = "error"
	StatusUnknown    = "unknown"
)

const statusTTL = time.Hour

// StatusStore records the generation status per chat.
type StatusStore interface {
	SetStatus(ctx context.Context, chatID, status string) error
	GetStatus(ctx context.Context, chatID string) (string, error)
}

type RedisStatusStore struct {
	client *redis.Client
}

func NewRedisStatusStore(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

func statusKey(chatID string) string { return "chat:" + chatID + ":status" }

func (s *RedisStatusStore) SetStatus(ctx context.Context, chatID, status string) error {
	return s.client.Set(ctx, statusKey(chatID), status, statusTTL).Err()
}

func (s *RedisStatusStore) GetStatus(ctx context.Context, chatID string) (string, error) {
	v, err := s.client.Get(ctx, statusKey(chatID)).Result()
	if err == redis.Nil {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, err
	}
	return v, nil
}

// MemoryStatusStore backs single-instance deployments and tests.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]string
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]string)}
}

func (s *MemoryStatusStore) SetStatus(_ context.Context, chatID, status string) error {
	s.mu.Lock()
	s.statuses[chatID] = status
	s.mu.Unlock()
	return nil
}

func (s *MemoryStatusStore) GetStatus(_ context.Context, chatID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.statuses[chatID]; ok {
		return v, nil
	}
	return StatusUnknown, nil
}
