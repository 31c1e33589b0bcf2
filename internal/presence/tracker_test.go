package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/educhat/internal/presence"
	"github.com/educhat/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSetAndClear(t *testing.T) {
	ctx := context.Background()
	tr := presence.NewTracker(memory.New())

	require.NoError(t, tr.SetTyping(ctx, "alice:bob", "alice", true))
	users, err := tr.Typing(ctx, "alice:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	require.NoError(t, tr.SetTyping(ctx, "alice:bob", "alice", false))
	users, err = tr.Typing(ctx, "alice:bob")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTrackerFlagExpires(t *testing.T) {
	ctx := context.Background()
	tr := presence.NewTrackerTTL(memory.New(), 30*time.Millisecond)

	require.NoError(t, tr.SetTyping(ctx, "alice:bob", "alice", true))

	users, err := tr.Typing(ctx, "alice:bob")
	require.NoError(t, err)
	assert.Len(t, users, 1)

	time.Sleep(60 * time.Millisecond)

	users, err = tr.Typing(ctx, "alice:bob")
	require.NoError(t, err)
	assert.Empty(t, users, "flag must expire without an explicit stop")
}

func TestTrackerRefreshKeepsFlagAlive(t *testing.T) {
	ctx := context.Background()
	tr := presence.NewTrackerTTL(memory.New(), 50*time.Millisecond)

	require.NoError(t, tr.SetTyping(ctx, "alice:bob", "alice", true))
	time.Sleep(30 * time.Millisecond)
	// Keystroke before expiry resets the TTL.
	require.NoError(t, tr.SetTyping(ctx, "alice:bob", "alice", true))
	time.Sleep(30 * time.Millisecond)

	users, err := tr.Typing(ctx, "alice:bob")
	require.NoError(t, err)
	assert.Len(t, users, 1, "refreshed flag must still be live")
}

func TestTrackerChannelsIsolated(t *testing.T) {
	ctx := context.Background()
	tr := presence.NewTracker(memory.New())

	require.NoError(t, tr.SetTyping(ctx, "alice:bob", "alice", true))

	users, err := tr.Typing(ctx, "alice:carol")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{name: "nobody", names: nil, want: ""},
		{name: "one", names: []string{"Alice"}, want: "Alice is typing…"},
		{name: "two", names: []string{"Alice", "Bob"}, want: "Alice and Bob are typing…"},
		{name: "three", names: []string{"Alice", "Bob", "Carol"}, want: "Alice, Bob and Carol are typing…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, presence.Label(tt.names))
		})
	}
}
