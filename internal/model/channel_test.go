package model_test

import (
	"testing"

	"github.com/educhat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey(t *testing.T) {
	tests := []struct {
		name  string
		userA string
		userB string
		want  string
	}{
		{name: "already sorted", userA: "alice", userB: "bob", want: "alice:bob"},
		{name: "reversed", userA: "bob", userB: "alice", want: "alice:bob"},
		{name: "uuid-like ids", userA: "f0a1", userB: "0b2c", want: "0b2c:f0a1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.PairKey(tt.userA, tt.userB))
		})
	}
}

func TestPairKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, model.PairKey("u1", "u2"), model.PairKey("u2", "u1"))
}

func TestSplitPairKey(t *testing.T) {
	a, b, ok := model.SplitPairKey("alice:bob")
	require.True(t, ok)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	_, _, ok = model.SplitPairKey("no-separator")
	assert.False(t, ok)

	_, _, ok = model.SplitPairKey(":bob")
	assert.False(t, ok)
}

func TestSplitPairKeyRoundTrip(t *testing.T) {
	id := model.PairKey("carol", "bob")
	a, b, ok := model.SplitPairKey(id)
	require.True(t, ok)
	assert.Equal(t, id, model.PairKey(a, b))
}

func TestChannelParticipants(t *testing.T) {
	ch := &model.Channel{ID: "alice:bob", UserA: "alice", UserB: "bob"}

	assert.True(t, ch.HasParticipant("alice"))
	assert.True(t, ch.HasParticipant("bob"))
	assert.False(t, ch.HasParticipant("mallory"))

	assert.Equal(t, "bob", ch.Peer("alice"))
	assert.Equal(t, "alice", ch.Peer("bob"))
}
