package byok

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	cipher, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return NewStore(db, cipher), db
}

func TestStore_UpsertAndResolve(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	cred, err := s.Upsert(ctx, 1, "openrouter", "sk-first")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if cred.EncryptedKey == "sk-first" {
		t.Fatalf("key stored in plaintext")
	}

	key, err := s.ResolveKey(ctx, 1, "openrouter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-first" {
		t.Fatalf("resolved wrong key: %q", key)
	}

	// Second upsert replaces, never duplicates.
	if _, err := s.Upsert(ctx, 1, "openrouter", "sk-second"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	var count int64
	if err := db.Model(&Credential{}).Where("user_id = ?", 1).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 credential row, got %d", count)
	}
	if key, _ := s.ResolveKey(ctx, 1, "openrouter"); key != "sk-second" {
		t.Fatalf("upsert did not replace, resolved %q", key)
	}
}

func TestStore_ResolveIsScopedPerUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, 1, "openrouter", "sk-user1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := s.ResolveKey(ctx, 2, "openrouter"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user 2 must not see user 1's key, got %v", err)
	}
	if _, err := s.ResolveKey(ctx, 1, "ollama"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown provider must report ErrNotFound, got %v", err)
	}
}

func TestStore_ListHidesKeyMaterial(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, 1, "openrouter", "sk-secret"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	creds, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creds) != 1 || creds[0].Provider != "openrouter" {
		t.Fatalf("unexpected list: %+v", creds)
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, 1, "openrouter", "sk"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Delete(ctx, 1, "openrouter"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.ResolveKey(ctx, 1, "openrouter"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted credential must not resolve, got %v", err)
	}
	if err := s.Delete(ctx, 1, "openrouter"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete must report ErrNotFound, got %v", err)
	}
}
