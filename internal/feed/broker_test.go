package feed_test

import (
	"testing"
	"time"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvMessage(t *testing.T, sub *feed.MessageSub) feed.MessageSnapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C:
		require.True(t, ok, "feed closed unexpectedly")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return feed.MessageSnapshot{}
	}
}

func TestBrokerDeliversToChannelSubscribers(t *testing.T) {
	b := feed.NewBroker()
	sub := b.SubscribeMessages("alice:bob")
	defer sub.Cancel()

	b.PublishMessages(feed.MessageSnapshot{
		ChannelID: "alice:bob",
		Messages:  []model.Message{{ID: "m1", Seq: 1}},
	})

	snap := recvMessage(t, sub)
	assert.Equal(t, "alice:bob", snap.ChannelID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
}

func TestBrokerIgnoresOtherChannels(t *testing.T) {
	b := feed.NewBroker()
	sub := b.SubscribeMessages("alice:bob")
	defer sub.Cancel()

	b.PublishMessages(feed.MessageSnapshot{ChannelID: "carol:dave"})

	select {
	case <-sub.C:
		t.Fatal("received snapshot for a foreign channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerLatestWins(t *testing.T) {
	b := feed.NewBroker()
	sub := b.SubscribeMessages("alice:bob")
	defer sub.Cancel()

	// The subscriber is not draining; every publish replaces the pending
	// snapshot instead of blocking.
	for seq := int64(1); seq <= 10; seq++ {
		b.PublishMessages(feed.MessageSnapshot{
			ChannelID: "alice:bob",
			Messages:  []model.Message{{ID: "m", Seq: seq}},
		})
	}

	snap := recvMessage(t, sub)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, int64(10), snap.Messages[0].Seq)
}

func TestBrokerCancelIdempotent(t *testing.T) {
	b := feed.NewBroker()
	sub := b.SubscribeMessages("alice:bob")

	sub.Cancel()
	assert.NotPanics(t, func() { sub.Cancel() })

	// No delivery after cancellation; the feed channel is closed.
	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:bob"})
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := feed.NewBroker()
	sub1 := b.SubscribeMessages("alice:bob")
	defer sub1.Cancel()
	sub2 := b.SubscribeMessages("alice:bob")
	defer sub2.Cancel()

	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:bob"})

	assert.Equal(t, "alice:bob", recvMessage(t, sub1).ChannelID)
	assert.Equal(t, "alice:bob", recvMessage(t, sub2).ChannelID)
}

func TestBrokerRequestFeed(t *testing.T) {
	b := feed.NewBroker()
	sub := b.SubscribeRequests("alice")
	defer sub.Cancel()

	b.PublishRequests(feed.RequestSnapshot{
		UserID:   "alice",
		Incoming: []model.ConnectionRequest{{ID: "r1", SenderID: "bob", ReceiverID: "alice"}},
	})

	select {
	case snap := <-sub.C:
		assert.Equal(t, "alice", snap.UserID)
		require.Len(t, snap.Incoming, 1)
		assert.Equal(t, "r1", snap.Incoming[0].ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request snapshot")
	}
}
