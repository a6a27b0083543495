package chat

import (
	"context"
	"errors"
	"testing"
)

func TestService_CreateChatDefaults(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.repo)

	c, err := svc.CreateChat(context.Background(), 1, "", nil, nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if c.Title != DefaultTitle {
		t.Fatalf("empty title must fall back to %q, got %q", DefaultTitle, c.Title)
	}
	if len(c.ID) != 26 {
		t.Fatalf("expected a ULID id, got %q", c.ID)
	}
}

func TestService_OwnershipConflation(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.repo)
	c, _ := env.seedChat(t, 1)

	if _, err := svc.GetChat(context.Background(), 2, c.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign chat must read as not found, got %v", err)
	}
	if _, err := svc.ListMessages(context.Background(), 2, c.ID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("foreign history must read as not found, got %v", err)
	}
	if _, err := svc.GetChat(context.Background(), 1, "01MISSINGCHAT0000000000000"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat must read as not found, got %v", err)
	}
}

func TestService_ListChatsScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.repo)

	if _, err := svc.CreateChat(context.Background(), 1, "mine", nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateChat(context.Background(), 2, "theirs", nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	chats, err := svc.ListChats(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 1 || chats[0].Title != "mine" {
		t.Fatalf("listing must be owner-scoped: %+v", chats)
	}
}
