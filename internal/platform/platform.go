// Package platform defines the chat platform adapter contract and the pure
// authorization helpers shared by the concrete transports.
package platform

import "context"

// Streaming modes. Stream emits tool activity live; batch accumulates the
// whole reply and sends it once.
const (
	StreamingModeStream = "stream"
	StreamingModeBatch  = "batch"
)

// Platform type tags.
const (
	TypeTelegram = "telegram"
	TypeDiscord  = "discord"
	TypeSlack    = "slack"
	TypeGitHub   = "github"
	TypeMock     = "mock"
)

// Adapter is the transport contract. Implementations live outside the
// orchestrator core; the webhook intake and the test adapter implement it
// in this repo.
type Adapter interface {
	// SendMessage delivers text to the conversation.
	SendMessage(ctx context.Context, conversationID, text string) error

	// StreamingMode returns "stream" or "batch".
	StreamingMode() string

	// PlatformType returns the platform tag, e.g. "telegram".
	PlatformType() string

	// EnsureThread pins a platform-specific thread for the conversation
	// and returns the effective conversation id. May be a no-op.
	EnsureThread(ctx context.Context, conversationID string, context string) (string, error)
}
