// Package bus provides live pub/sub fan-out of chat events to connected
// subscribers. Delivery is best-effort: there is no durable backlog, a
// reconnecting client re-fetches the persisted message log and resumes
// live-tailing.
package bus

import (
	"context"
	"fmt"
)

// Bus delivers events for one channel to all current subscribers in publish
// order. Publish is fire-and-forget from the orchestrator's point of view:
// a failed publish is logged by the caller, never propagated to the user.
type Bus interface {
	Publish(ctx context.Context, channel string, event *Event) error
	// Subscribe returns a live subscription. Closing it releases all
	// resources; leaking subscriptions is a correctness bug.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan *Event
	Close() error
}

// Channel scopes events by chat and subscribing user. The per-user component
// keeps the key shape ready for shared-visibility chats even though today a
// chat has a single owner.
func Channel(chatID string, userID uint64) string {
	return fmt.Sprintf("chat:%s:%d", chatID, userID)
}
