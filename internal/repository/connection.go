package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConnectionRepository struct {
	pool *pgxpool.Pool
}

func NewConnectionRepository(pool *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{pool: pool}
}

func (r *ConnectionRepository) Create(ctx context.Context, req *model.ConnectionRequest) error {
	defer logger.DeferLogDuration("connection.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO connection_requests (id, sender_id, receiver_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		req.ID, req.SenderID, req.ReceiverID, req.Status, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("connectionRepo.Create: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*model.ConnectionRequest, error) {
	defer logger.DeferLogDuration("connection.GetByID", time.Now())()
	req := &model.ConnectionRequest{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, sender_id, receiver_id, status, created_at, accepted_at
		 FROM connection_requests WHERE id = $1`, id,
	).Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.AcceptedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("connectionRepo.GetByID: %w", err)
	}
	return req, nil
}

// ExistsBetween reports whether any request row (pending or accepted) exists
// between the pair, in either direction.
func (r *ConnectionRepository) ExistsBetween(ctx context.Context, userA, userB string) (bool, error) {
	defer logger.DeferLogDuration("connection.ExistsBetween", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM connection_requests
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))`,
		userA, userB,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("connectionRepo.ExistsBetween: %w", err)
	}
	return exists, nil
}

// AreConnected reports whether an accepted edge exists between the pair.
func (r *ConnectionRepository) AreConnected(ctx context.Context, userA, userB string) (bool, error) {
	defer logger.DeferLogDuration("connection.AreConnected", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM connection_requests
		 WHERE status = 'accepted'
		   AND ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)))`,
		userA, userB,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("connectionRepo.AreConnected: %w", err)
	}
	return exists, nil
}

// Accept transitions pending -> accepted. Returns false when the row is
// gone or already accepted (benign race; callers treat it as a no-op).
func (r *ConnectionRepository) Accept(ctx context.Context, id string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("connection.Accept", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE connection_requests SET status = 'accepted', accepted_at = $1
		 WHERE id = $2 AND status = 'pending'`,
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("connectionRepo.Accept: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the request row. Deleting a missing row is not an error.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("connection.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM connection_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("connectionRepo.Delete: %w", err)
	}
	return nil
}

const requestWithSenderCols = `cr.id, cr.sender_id, cr.receiver_id, cr.status, cr.created_at, cr.accepted_at,
	        u.id, u.display_name, u.email, u.avatar_url, u.role, u.is_online, u.last_seen_at, u.created_at`

func (r *ConnectionRepository) listPending(ctx context.Context, where, joinOn string, userID string) ([]model.ConnectionRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestWithSenderCols+`
		 FROM connection_requests cr
		 JOIN users u ON u.id = cr.`+joinOn+`
		 WHERE cr.`+where+` = $1 AND cr.status = 'pending'
		 ORDER BY cr.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("connectionRepo.listPending query: %w", err)
	}
	defer rows.Close()

	reqs := make([]model.ConnectionRequest, 0, 8)
	for rows.Next() {
		var req model.ConnectionRequest
		peer := &model.User{}
		if err := rows.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.AcceptedAt,
			&peer.ID, &peer.DisplayName, &peer.Email, &peer.AvatarURL, &peer.Role, &peer.IsOnline, &peer.LastSeenAt, &peer.CreatedAt); err != nil {
			return nil, fmt.Errorf("connectionRepo.listPending scan: %w", err)
		}
		if peer.ID == req.SenderID {
			req.Sender = peer
		} else {
			req.Receiver = peer
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connectionRepo.listPending rows: %w", err)
	}
	return reqs, nil
}

// ListPendingIncoming returns pending requests addressed to userID, with
// the sender profile attached.
func (r *ConnectionRepository) ListPendingIncoming(ctx context.Context, userID string) ([]model.ConnectionRequest, error) {
	defer logger.DeferLogDuration("connection.ListPendingIncoming", time.Now())()
	return r.listPending(ctx, "receiver_id", "sender_id", userID)
}

// ListPendingOutgoing returns pending requests sent by userID, with the
// receiver profile attached.
func (r *ConnectionRepository) ListPendingOutgoing(ctx context.Context, userID string) ([]model.ConnectionRequest, error) {
	defer logger.DeferLogDuration("connection.ListPendingOutgoing", time.Now())()
	return r.listPending(ctx, "sender_id", "receiver_id", userID)
}

// ListAcceptedPeers returns the profiles on the far side of every accepted
// edge touching userID ("friends", in either direction).
func (r *ConnectionRepository) ListAcceptedPeers(ctx context.Context, userID string) ([]model.User, error) {
	defer logger.DeferLogDuration("connection.ListAcceptedPeers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE id IN (
		   SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END
		   FROM connection_requests
		   WHERE status = 'accepted' AND (sender_id = $1 OR receiver_id = $1)
		 ) ORDER BY display_name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("connectionRepo.ListAcceptedPeers query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 16)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("connectionRepo.ListAcceptedPeers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connectionRepo.ListAcceptedPeers rows: %w", err)
	}
	return users, nil
}
