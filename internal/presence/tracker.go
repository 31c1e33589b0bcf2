// Package presence tracks ephemeral typing state. Flags are
// server-authoritative with a short TTL: a flag set by a client that
// disconnects mid-type expires on its own, it is never durable state.
package presence

import (
	"context"
	"time"

	"github.com/educhat/internal/storage"
)

// TypingTTL is the quiet period after which a typing flag expires. Clients
// refresh the flag on keystrokes; 2.5s of silence reads as "stopped".
const TypingTTL = 2500 * time.Millisecond

type Tracker struct {
	store storage.PresenceStore
	ttl   time.Duration
}

func NewTracker(store storage.PresenceStore) *Tracker {
	return NewTrackerTTL(store, TypingTTL)
}

// NewTrackerTTL creates a tracker with a custom flag TTL (tests use a
// short one).
func NewTrackerTTL(store storage.PresenceStore, ttl time.Duration) *Tracker {
	return &Tracker{store: store, ttl: ttl}
}

// SetTyping records that the user is (or stopped) typing in the channel.
// typing=true refreshes the TTL; repeated calls while typing keep the flag
// alive and 2.5s of inactivity clears it with no further calls.
func (t *Tracker) SetTyping(ctx context.Context, channelID, userID string, typing bool) error {
	if typing {
		return t.store.SetTyping(ctx, channelID, userID, t.ttl)
	}
	return t.store.ClearTyping(ctx, channelID, userID)
}

// Typing returns the ids of users currently typing in the channel.
// Consumers rendering an indicator must drop their own id first.
func (t *Tracker) Typing(ctx context.Context, channelID string) ([]string, error) {
	return t.store.TypingUsers(ctx, channelID)
}
