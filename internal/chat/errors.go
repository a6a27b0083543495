package chat

import "errors"

// Pre-turn failures are returned synchronously to the caller and never reach
// the event bus. Failures after the turn has started are reported only via
// message_error events.
var (
	// ErrChatNotFound covers both an absent chat and a chat owned by
	// another user; existence is deliberately not revealed.
	ErrChatNotFound = errors.New("chat not found")

	// ErrModelNotConfigured: no model selected, or the model id resolves
	// to nothing usable.
	ErrModelNotConfigured = errors.New("model not configured")

	// ErrCredentialMissing: no active BYOK credential for the model's
	// provider.
	ErrCredentialMissing = errors.New("no api key configured for provider")

	// ErrPersistence wraps database write failures on the user message;
	// fatal to the whole request, no provider call is attempted.
	ErrPersistence = errors.New("persistence failure")
)
