package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
	"github.com/google/uuid"
)

type userDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type connectionStore interface {
	Create(ctx context.Context, req *model.ConnectionRequest) error
	GetByID(ctx context.Context, id string) (*model.ConnectionRequest, error)
	ExistsBetween(ctx context.Context, userA, userB string) (bool, error)
	Accept(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	ListPendingIncoming(ctx context.Context, userID string) ([]model.ConnectionRequest, error)
	ListPendingOutgoing(ctx context.Context, userID string) ([]model.ConnectionRequest, error)
	ListAcceptedPeers(ctx context.Context, userID string) ([]model.User, error)
}

type requestPublisher interface {
	PublishRequests(feed.RequestSnapshot)
}

// Notifier sends a best-effort out-of-band notification to a user's
// registered devices. Implementations log failures instead of returning
// them; a nil Notifier disables notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string)
}

// ConnectionService manages the connection graph: directed requests that
// become undirected accepted edges.
type ConnectionService struct {
	users    userDirectory
	requests connectionStore
	broker   requestPublisher
	notifier Notifier
}

func NewConnectionService(users userDirectory, requests connectionStore, broker requestPublisher, notifier Notifier) *ConnectionService {
	return &ConnectionService{users: users, requests: requests, broker: broker, notifier: notifier}
}

// SendRequest creates a pending request from sender to the target user,
// addressed by email or by user id. At most one live request may exist per
// pair, in either direction and regardless of who sent it.
func (s *ConnectionService) SendRequest(ctx context.Context, senderID, target string) (*model.ConnectionRequest, error) {
	receiver, err := s.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if receiver.ID == senderID {
		return nil, ErrSelfRequest
	}

	exists, err := s.requests.ExistsBetween(ctx, senderID, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("connectionService.SendRequest: %w", err)
	}
	if exists {
		return nil, ErrDuplicateRequest
	}

	req := &model.ConnectionRequest{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiver.ID,
		Status:     model.RequestStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("connectionService.SendRequest: %w", err)
	}

	s.publishRequests(ctx, senderID)
	s.publishRequests(ctx, receiver.ID)
	if s.notifier != nil {
		go s.notifier.Notify(context.Background(), receiver.ID, "New connection request", "You have a new connection request")
	}
	return req, nil
}

func (s *ConnectionService) resolveTarget(ctx context.Context, target string) (*model.User, error) {
	if strings.Contains(target, "@") {
		return s.users.GetByEmail(ctx, target)
	}
	return s.users.GetByID(ctx, target)
}

// Accept transitions the request to accepted. Only the receiver may accept.
// Accepting a request that was already accepted (or raced away) is a no-op.
func (s *ConnectionService) Accept(ctx context.Context, userID, requestID string) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ReceiverID != userID {
		return ErrForbidden
	}

	ok, err := s.requests.Accept(ctx, requestID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("connectionService.Accept: %w", err)
	}
	if ok {
		s.publishRequests(ctx, req.SenderID)
		s.publishRequests(ctx, req.ReceiverID)
		if s.notifier != nil {
			go s.notifier.Notify(context.Background(), req.SenderID, "Connection accepted", "Your connection request was accepted")
		}
	}
	return nil
}

// Reject deletes the request. The receiver rejects, the sender cancels;
// anyone else is forbidden. Rejecting a missing request is a no-op, so the
// pair is free to start over afterwards.
func (s *ConnectionService) Reject(ctx context.Context, userID, requestID string) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !req.Involves(userID) {
		return ErrForbidden
	}

	if err := s.requests.Delete(ctx, requestID); err != nil {
		return fmt.Errorf("connectionService.Reject: %w", err)
	}
	s.publishRequests(ctx, req.SenderID)
	s.publishRequests(ctx, req.ReceiverID)
	return nil
}

// ListPending returns the user's pending requests, both directions.
func (s *ConnectionService) ListPending(ctx context.Context, userID string) (incoming, outgoing []model.ConnectionRequest, err error) {
	incoming, err = s.requests.ListPendingIncoming(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	outgoing, err = s.requests.ListPendingOutgoing(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return incoming, outgoing, nil
}

// ListConnections returns the profiles of everyone the user holds an
// accepted edge with.
func (s *ConnectionService) ListConnections(ctx context.Context, userID string) ([]model.User, error) {
	return s.requests.ListAcceptedPeers(ctx, userID)
}

// PublishRequests pushes a fresh request snapshot to the user's feed
// subscribers. Also called by the hub to prime a new subscription.
func (s *ConnectionService) PublishRequests(ctx context.Context, userID string) {
	s.publishRequests(ctx, userID)
}

func (s *ConnectionService) publishRequests(ctx context.Context, userID string) {
	incoming, outgoing, err := s.ListPending(ctx, userID)
	if err != nil {
		logger.Errorf("publish requests for %s: %v", userID, err)
		return
	}
	s.broker.PublishRequests(feed.RequestSnapshot{
		UserID:   userID,
		Incoming: incoming,
		Outgoing: outgoing,
	})
}
