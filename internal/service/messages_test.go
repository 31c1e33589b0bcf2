package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/educhat/internal/model"
	"github.com/educhat/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageEnv(t *testing.T) (*service.MessageService, *fakeMessageStore, *capturingPublisher) {
	t.Helper()
	channels := newFakeChannels()
	require.NoError(t, channels.CreateIfAbsent(context.Background(), &model.Channel{
		ID:        model.PairKey("alice", "bob"),
		UserA:     "alice",
		UserB:     "bob",
		CreatedAt: time.Now().UTC(),
	}))
	msgs := newFakeMessages()
	reactions := newFakeReactions(msgs)
	pub := &capturingPublisher{}
	return service.NewMessageService(channels, msgs, reactions, pub, nil, nil), msgs, pub
}

func TestSendAssignsIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	first, err := svc.Send(ctx, "alice", channelID, "hi", nil, nil)
	require.NoError(t, err)
	second, err := svc.Send(ctx, "bob", channelID, "hello", nil, nil)
	require.NoError(t, err)

	assert.Greater(t, second.Seq, first.Seq)

	// Every send republishes the full channel snapshot in seq order.
	snap, ok := pub.lastMessages()
	require.True(t, ok)
	assert.Equal(t, channelID, snap.ChannelID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, first.ID, snap.Messages[0].ID)
	assert.Equal(t, second.ID, snap.Messages[1].ID)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	ctx := context.Background()
	svc, msgs, _ := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	_, err := svc.Send(ctx, "alice", channelID, "", nil, nil)
	assert.ErrorIs(t, err, service.ErrEmptyMessage)

	_, err = svc.Send(ctx, "alice", channelID, "   \n\t", nil, nil)
	assert.ErrorIs(t, err, service.ErrEmptyMessage)

	// Nothing was written on either rejection.
	assert.Empty(t, msgs.msgs)

	// An attachment alone is enough.
	m, err := svc.Send(ctx, "alice", channelID, "", []model.FileMeta{{Name: "notes.pdf", URL: "/api/files/x.pdf"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, m.Text)
	require.Len(t, m.Files, 1)
}

func TestSendClearsTypingFlag(t *testing.T) {
	ctx := context.Background()
	channelID := model.PairKey("alice", "bob")
	channels := newFakeChannels()
	require.NoError(t, channels.CreateIfAbsent(ctx, &model.Channel{
		ID: channelID, UserA: "alice", UserB: "bob", CreatedAt: time.Now().UTC(),
	}))
	msgs := newFakeMessages()
	typing := newFakeTyping()
	svc := service.NewMessageService(channels, msgs, newFakeReactions(msgs), &capturingPublisher{}, typing, nil)

	require.NoError(t, typing.SetTyping(ctx, channelID, "alice", true))

	_, err := svc.Send(ctx, "alice", channelID, "hi", nil, nil)
	require.NoError(t, err)

	flag, ok := typing.get(channelID, "alice")
	require.True(t, ok)
	assert.False(t, flag, "sending must clear the sender's typing flag")
}

func TestSendParticipantOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := messageEnv(t)

	_, err := svc.Send(ctx, "mallory", model.PairKey("alice", "bob"), "hi", nil, nil)
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = svc.Send(ctx, "alice", "no:channel", "hi", nil, nil)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestSendReplyValidation(t *testing.T) {
	ctx := context.Background()
	svc, msgs, _ := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	original, err := svc.Send(ctx, "alice", channelID, "original", nil, nil)
	require.NoError(t, err)

	reply, err := svc.Send(ctx, "bob", channelID, "reply", nil, &original.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, original.ID, *reply.ReplyToID)

	// Reply target must exist.
	missing := "missing-id"
	_, err = svc.Send(ctx, "bob", channelID, "reply", nil, &missing)
	assert.ErrorIs(t, err, service.ErrNotFound)

	// Reply target from another channel is treated as missing.
	foreign := &model.Message{ID: "foreign", ChannelID: "carol:dave", SenderID: "carol", Text: "x"}
	require.NoError(t, msgs.Append(ctx, foreign))
	_, err = svc.Send(ctx, "bob", channelID, "reply", nil, &foreign.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestToggleReaction(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	m, err := svc.Send(ctx, "alice", channelID, "hi", nil, nil)
	require.NoError(t, err)

	// First toggle sets the reaction.
	require.NoError(t, svc.ToggleReaction(ctx, "bob", m.ID, "👍"))
	snap, _ := pub.lastMessages()
	require.Len(t, snap.Messages, 1)
	require.Len(t, snap.Messages[0].Reactions, 1)
	assert.Equal(t, "👍", snap.Messages[0].Reactions[0].Emoji)
	assert.Equal(t, 1, snap.Messages[0].Reactions[0].Count)

	// Toggling a different emoji replaces the old one; a user holds at most
	// one reaction per message.
	require.NoError(t, svc.ToggleReaction(ctx, "bob", m.ID, "❤️"))
	snap, _ = pub.lastMessages()
	require.Len(t, snap.Messages[0].Reactions, 1)
	assert.Equal(t, "❤️", snap.Messages[0].Reactions[0].Emoji)

	// Toggling the same emoji again removes it.
	require.NoError(t, svc.ToggleReaction(ctx, "bob", m.ID, "❤️"))
	snap, _ = pub.lastMessages()
	assert.Empty(t, snap.Messages[0].Reactions)
}

func TestToggleReactionCountsPerUser(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	m, err := svc.Send(ctx, "alice", channelID, "hi", nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.ToggleReaction(ctx, "alice", m.ID, "👍"))
	require.NoError(t, svc.ToggleReaction(ctx, "bob", m.ID, "👍"))

	snap, _ := pub.lastMessages()
	require.Len(t, snap.Messages[0].Reactions, 1)
	group := snap.Messages[0].Reactions[0]
	assert.Equal(t, 2, group.Count)
	assert.ElementsMatch(t, []string{"alice", "bob"}, group.Users)
}

func TestToggleReactionParticipantOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := messageEnv(t)

	m, err := svc.Send(ctx, "alice", model.PairKey("alice", "bob"), "hi", nil, nil)
	require.NoError(t, err)

	err = svc.ToggleReaction(ctx, "mallory", m.ID, "👍")
	assert.ErrorIs(t, err, service.ErrForbidden)

	err = svc.ToggleReaction(ctx, "bob", "missing", "👍")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestMarkReadWatermarkMonotonic(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, "alice", channelID, "msg", nil, nil)
		require.NoError(t, err)
	}

	require.NoError(t, svc.MarkRead(ctx, "bob", channelID, 5))
	snap, _ := pub.lastMessages()
	assert.Equal(t, int64(5), snap.Reads["bob"])

	// Marking an older message read never moves the watermark back.
	require.NoError(t, svc.MarkRead(ctx, "bob", channelID, 3))
	snap, _ = pub.lastMessages()
	assert.Equal(t, int64(5), snap.Reads["bob"])
}

func TestMarkReadParticipantOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := messageEnv(t)

	err := svc.MarkRead(ctx, "mallory", model.PairKey("alice", "bob"), 1)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestDeleteSenderOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	m, err := svc.Send(ctx, "alice", channelID, "oops", nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "bob", m.ID), service.ErrForbidden)

	require.NoError(t, svc.Delete(ctx, "alice", m.ID))
	snap, _ := pub.lastMessages()
	assert.Empty(t, snap.Messages)

	assert.ErrorIs(t, svc.Delete(ctx, "alice", m.ID), service.ErrNotFound)
}

func TestDeleteLeavesRepliesDangling(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	original, err := svc.Send(ctx, "alice", channelID, "original", nil, nil)
	require.NoError(t, err)
	reply, err := svc.Send(ctx, "bob", channelID, "reply", nil, &original.ID)
	require.NoError(t, err)

	// Before the delete the reply carries a preview of the original.
	snap, _ := pub.lastMessages()
	require.Len(t, snap.Messages, 2)
	require.NotNil(t, snap.Messages[1].ReplyTo)
	assert.Equal(t, "original", snap.Messages[1].ReplyTo.Text)

	require.NoError(t, svc.Delete(ctx, "alice", original.ID))

	// The reply survives, keeps its reference, but loses the preview.
	snap, _ = pub.lastMessages()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, reply.ID, snap.Messages[0].ID)
	require.NotNil(t, snap.Messages[0].ReplyToID)
	assert.Equal(t, original.ID, *snap.Messages[0].ReplyToID)
	assert.Nil(t, snap.Messages[0].ReplyTo)
}

func TestReplyPreviewIsShallow(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	original, err := svc.Send(ctx, "alice", channelID, "original", nil, nil)
	require.NoError(t, err)
	require.NoError(t, svc.ToggleReaction(ctx, "bob", original.ID, "👍"))

	_, err = svc.Send(ctx, "bob", channelID, "reply", nil, &original.ID)
	require.NoError(t, err)

	snap, _ := pub.lastMessages()
	require.Len(t, snap.Messages, 2)
	preview := snap.Messages[1].ReplyTo
	require.NotNil(t, preview)
	assert.Equal(t, "original", preview.Text)
	assert.Nil(t, preview.Reactions, "quote preview carries no reactions")
	assert.Nil(t, preview.ReplyTo, "quote preview never nests")
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := messageEnv(t)
	channelID := model.PairKey("alice", "bob")

	var ids []string
	for i := 0; i < 5; i++ {
		m, err := svc.Send(ctx, "alice", channelID, "msg", nil, nil)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page, err := svc.History(ctx, "bob", channelID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, err = svc.History(ctx, "bob", channelID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	_, err = svc.History(ctx, "mallory", channelID, 10, 0)
	assert.ErrorIs(t, err, service.ErrForbidden)
}
