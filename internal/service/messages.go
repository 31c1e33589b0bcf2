package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
	"github.com/google/uuid"
)

// FeedLimit caps how many messages a live snapshot carries. Older history
// is reachable through paginated REST reads.
const FeedLimit = 200

type channelGetter interface {
	GetByID(ctx context.Context, id string) (*model.Channel, error)
}

type messageStore interface {
	Append(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByChannel(ctx context.Context, channelID string, limit, offset int) ([]model.Message, error)
	ListAscending(ctx context.Context, channelID string, limit int) ([]model.Message, error)
	Delete(ctx context.Context, id string) error
	MarkReadUpTo(ctx context.Context, channelID, userID string, seq int64) error
	ListReads(ctx context.Context, channelID string) (map[string]int64, error)
}

type reactionStore interface {
	Set(ctx context.Context, messageID, userID, emoji string) error
	Remove(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListByChannel(ctx context.Context, channelID string) ([]model.Reaction, error)
}

type messagePublisher interface {
	PublishMessages(feed.MessageSnapshot)
}

type typingTracker interface {
	SetTyping(ctx context.Context, channelID, userID string, typing bool) error
}

// MessageService implements sending, reading and reacting within a channel.
// Every mutation re-publishes the channel's feed snapshot, so subscribers
// converge on the stored state without per-event patching.
type MessageService struct {
	channels  channelGetter
	messages  messageStore
	reactions reactionStore
	broker    messagePublisher
	typing    typingTracker
	notifier  Notifier
}

// NewMessageService wires the message engine. typing may be nil, which
// leaves typing flags to their TTL.
func NewMessageService(channels channelGetter, messages messageStore, reactions reactionStore, broker messagePublisher, typing typingTracker, notifier Notifier) *MessageService {
	return &MessageService{channels: channels, messages: messages, reactions: reactions, broker: broker, typing: typing, notifier: notifier}
}

// Send appends a message to the channel. The sender must participate; the
// message needs text or at least one attachment. A reply target must be a
// live message of the same channel.
func (s *MessageService) Send(ctx context.Context, senderID, channelID, text string, files []model.FileMeta, replyToID *string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}

	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasParticipant(senderID) {
		return nil, ErrForbidden
	}

	if replyToID != nil {
		target, err := s.messages.GetByID(ctx, *replyToID)
		if err != nil {
			return nil, err
		}
		if target.ChannelID != channelID {
			return nil, ErrNotFound
		}
	}

	m := &model.Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		SenderID:  senderID,
		Text:      text,
		ReplyToID: replyToID,
		Files:     files,
	}
	if err := s.messages.Append(ctx, m); err != nil {
		return nil, err
	}

	// A sent message ends the "is typing" state immediately, whichever
	// path (REST or socket) carried it.
	if s.typing != nil {
		if err := s.typing.SetTyping(ctx, channelID, senderID, false); err != nil {
			logger.Errorf("clear typing channel=%s user=%s: %v", channelID, senderID, err)
		}
	}

	s.PublishChannel(ctx, channelID)
	if s.notifier != nil {
		// Out of band: push delivery must not hold up the send path.
		go s.notifier.Notify(context.Background(), ch.Peer(senderID), "New message", previewText(m))
	}
	return m, nil
}

func previewText(m *model.Message) string {
	if m.Text != "" {
		return m.Text
	}
	if len(m.Files) > 0 {
		return m.Files[0].Name
	}
	return ""
}

// ToggleReaction applies the involution: if the user's current reaction on
// the message is emoji it is removed, otherwise emoji becomes the user's
// reaction (replacing any other). A user holds at most one reaction per
// message.
func (s *MessageService) ToggleReaction(ctx context.Context, userID, messageID, emoji string) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	ch, err := s.channels.GetByID(ctx, m.ChannelID)
	if err != nil {
		return err
	}
	if !ch.HasParticipant(userID) {
		return ErrForbidden
	}

	removed, err := s.reactions.Remove(ctx, messageID, userID, emoji)
	if err != nil {
		return err
	}
	if !removed {
		if err := s.reactions.Set(ctx, messageID, userID, emoji); err != nil {
			return err
		}
	}
	s.PublishChannel(ctx, m.ChannelID)
	return nil
}

// MarkRead advances the caller's read watermark to seq. The watermark only
// moves forward; marking an older message read changes nothing.
func (s *MessageService) MarkRead(ctx context.Context, userID, channelID string, seq int64) error {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if !ch.HasParticipant(userID) {
		return ErrForbidden
	}
	if err := s.messages.MarkReadUpTo(ctx, channelID, userID, seq); err != nil {
		return err
	}
	s.PublishChannel(ctx, channelID)
	return nil
}

// Delete removes the message permanently. Only the sender may delete.
// Replies to it keep their reference and render without a preview.
func (s *MessageService) Delete(ctx context.Context, userID, messageID string) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return ErrForbidden
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return err
	}
	s.PublishChannel(ctx, m.ChannelID)
	return nil
}

// History returns a page of enriched messages, newest first, for REST reads
// beyond the live feed window.
func (s *MessageService) History(ctx context.Context, userID, channelID string, limit, offset int) ([]model.Message, error) {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasParticipant(userID) {
		return nil, ErrForbidden
	}

	msgs, err := s.messages.ListByChannel(ctx, channelID, limit, offset)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, channelID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Snapshot assembles the channel's current feed view: the newest messages
// in seq order with reactions and reply previews, plus read watermarks.
func (s *MessageService) Snapshot(ctx context.Context, channelID string) (feed.MessageSnapshot, error) {
	msgs, err := s.messages.ListAscending(ctx, channelID, FeedLimit)
	if err != nil {
		return feed.MessageSnapshot{}, err
	}
	if err := s.enrich(ctx, channelID, msgs); err != nil {
		return feed.MessageSnapshot{}, err
	}
	reads, err := s.messages.ListReads(ctx, channelID)
	if err != nil {
		return feed.MessageSnapshot{}, err
	}
	return feed.MessageSnapshot{ChannelID: channelID, Messages: msgs, Reads: reads}, nil
}

// PublishChannel re-queries the channel and pushes the snapshot to feed
// subscribers. Failures are logged, not surfaced: the mutation that
// triggered the publish already succeeded.
func (s *MessageService) PublishChannel(ctx context.Context, channelID string) {
	snap, err := s.Snapshot(ctx, channelID)
	if err != nil {
		logger.Errorf("publish channel %s: %v", channelID, err)
		return
	}
	s.broker.PublishMessages(snap)
}

// enrich attaches reaction groups and reply previews to the messages.
func (s *MessageService) enrich(ctx context.Context, channelID string, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	reactions, err := s.reactions.ListByChannel(ctx, channelID)
	if err != nil {
		return err
	}
	grouped := groupReactions(reactions)

	byID := make(map[string]*model.Message, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
	}
	for i := range msgs {
		m := &msgs[i]
		m.Reactions = grouped[m.ID]
		if m.ReplyToID == nil {
			continue
		}
		if target, ok := byID[*m.ReplyToID]; ok {
			m.ReplyTo = replyPreview(target)
			continue
		}
		target, err := s.messages.GetByID(ctx, *m.ReplyToID)
		if errors.Is(err, ErrNotFound) {
			continue // original deleted, reply dangles
		}
		if err != nil {
			return fmt.Errorf("messageService.enrich reply: %w", err)
		}
		m.ReplyTo = replyPreview(target)
	}
	return nil
}

// replyPreview is a shallow copy for quoting: no reactions, no nested reply.
func replyPreview(m *model.Message) *model.Message {
	p := *m
	p.Reactions = nil
	p.ReplyTo = nil
	return &p
}

// groupReactions folds flat reaction rows into per-message display groups,
// keeping emoji groups in first-reaction order.
func groupReactions(reactions []model.Reaction) map[string][]model.ReactionGroup {
	grouped := make(map[string][]model.ReactionGroup)
	for _, r := range reactions {
		groups := grouped[r.MessageID]
		found := false
		for i := range groups {
			if groups[i].Emoji == r.Emoji {
				groups[i].Count++
				groups[i].Users = append(groups[i].Users, r.UserID)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, model.ReactionGroup{Emoji: r.Emoji, Count: 1, Users: []string{r.UserID}})
		}
		grouped[r.MessageID] = groups
	}
	return grouped
}
