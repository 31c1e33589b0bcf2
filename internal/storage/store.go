package storage

import (
	"context"
	"time"
)

// PresenceStore holds ephemeral typing flags. Flags expire on their own:
// a typing indicator must never outlive its TTL even if the client that set
// it disconnects mid-type.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type PresenceStore interface {
	SetTyping(ctx context.Context, channelID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, channelID, userID string) error
	TypingUsers(ctx context.Context, channelID string) ([]string, error)
	Close() error
}
