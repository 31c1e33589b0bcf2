package service

import (
	"context"
	"fmt"
	"time"

	"github.com/educhat/internal/model"
)

type connectionChecker interface {
	AreConnected(ctx context.Context, userA, userB string) (bool, error)
}

type channelStore interface {
	CreateIfAbsent(ctx context.Context, c *model.Channel) error
	GetByID(ctx context.Context, id string) (*model.Channel, error)
	ListForUser(ctx context.Context, userID string) ([]model.Channel, error)
	UnreadCount(ctx context.Context, channelID, userID string) (int, error)
}

// ChannelService resolves and lists 1:1 conversation channels. A channel's
// id is the canonical pair key of its participants, so resolving the same
// pair from either side always lands on the same channel.
type ChannelService struct {
	users       userDirectory
	connections connectionChecker
	channels    channelStore
}

func NewChannelService(users userDirectory, connections connectionChecker, channels channelStore) *ChannelService {
	return &ChannelService{users: users, connections: connections, channels: channels}
}

// ResolveOrCreate returns the channel between userID and peerID, creating
// it on first use. Requires an accepted connection between the pair.
// Repeated and concurrent calls, from either participant, yield the same
// channel and never a duplicate.
func (s *ChannelService) ResolveOrCreate(ctx context.Context, userID, peerID string) (*model.Channel, error) {
	if userID == peerID {
		return nil, ErrSelfRequest
	}
	if _, err := s.users.GetByID(ctx, peerID); err != nil {
		return nil, err
	}

	connected, err := s.connections.AreConnected(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("channelService.ResolveOrCreate: %w", err)
	}
	if !connected {
		return nil, ErrNotConnected
	}

	a, b := model.SortPair(userID, peerID)
	ch := &model.Channel{
		ID:        model.PairKey(userID, peerID),
		UserA:     a,
		UserB:     b,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.channels.CreateIfAbsent(ctx, ch); err != nil {
		return nil, err
	}
	// Re-read: on the losing side of a concurrent create this returns the
	// winner's row.
	return s.channels.GetByID(ctx, ch.ID)
}

// Get returns the channel if the caller participates in it.
func (s *ChannelService) Get(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return ch, nil
}

// ListForUser returns the user's channels, most recently active first, with
// the peer profile and unread count attached.
func (s *ChannelService) ListForUser(ctx context.Context, userID string) ([]model.ChannelWithMeta, error) {
	channels, err := s.channels.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]model.ChannelWithMeta, 0, len(channels))
	for _, ch := range channels {
		meta := model.ChannelWithMeta{Channel: ch}
		peer, err := s.users.GetByID(ctx, ch.Peer(userID))
		if err == nil {
			meta.Peer = peer
		}
		unread, err := s.channels.UnreadCount(ctx, ch.ID, userID)
		if err != nil {
			return nil, err
		}
		meta.UnreadCount = unread
		out = append(out, meta)
	}
	return out, nil
}
