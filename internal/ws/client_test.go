package ws

import (
	"testing"
	"time"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOutgoing(t *testing.T, c *Client) OutgoingMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outgoing message")
		return OutgoingMessage{}
	}
}

func assertNoOutgoing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		snap, _ := msg.Payload.(feed.MessageSnapshot)
		t.Fatalf("old channel feed still live after switching: delivered snapshot for %s", snap.ChannelID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSwitchingChannelsCancelsPreviousFeed(t *testing.T) {
	b := feed.NewBroker()
	c := NewClient(nil, nil, "alice")

	c.attachMessageFeed("alice:bob", b.SubscribeMessages("alice:bob"))
	c.attachMessageFeed("alice:carol", b.SubscribeMessages("alice:carol"))

	// The old channel's feed must be dead after the switch.
	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:bob",
		Messages: []model.Message{{ID: "m1", Seq: 1}}})
	assertNoOutgoing(t, c)

	// The new channel's feed delivers.
	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:carol",
		Messages: []model.Message{{ID: "m2", Seq: 1}}})
	msg := recvOutgoing(t, c)
	assert.Equal(t, EventMessageFeed, msg.Type)
	snap, ok := msg.Payload.(feed.MessageSnapshot)
	require.True(t, ok)
	assert.Equal(t, "alice:carol", snap.ChannelID)

	c.cancelFeeds()
}

func TestDetachStopsFeedDelivery(t *testing.T) {
	b := feed.NewBroker()
	c := NewClient(nil, nil, "alice")

	c.attachMessageFeed("alice:bob", b.SubscribeMessages("alice:bob"))
	c.detachMessageFeed("alice:bob")

	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:bob"})
	assertNoOutgoing(t, c)

	// Detaching a channel the client is not watching is a no-op.
	c.attachMessageFeed("alice:carol", b.SubscribeMessages("alice:carol"))
	c.detachMessageFeed("alice:bob")
	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:carol"})
	msg := recvOutgoing(t, c)
	assert.Equal(t, EventMessageFeed, msg.Type)

	c.cancelFeeds()
}

func TestCancelFeedsStopsAllDelivery(t *testing.T) {
	b := feed.NewBroker()
	c := NewClient(nil, nil, "alice")

	c.attachMessageFeed("alice:bob", b.SubscribeMessages("alice:bob"))
	c.attachRequestFeed(b.SubscribeRequests("alice"))
	c.cancelFeeds()

	b.PublishMessages(feed.MessageSnapshot{ChannelID: "alice:bob"})
	b.PublishRequests(feed.RequestSnapshot{UserID: "alice"})

	select {
	case msg := <-c.send:
		t.Fatalf("feed delivered after cancelFeeds: %v", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
