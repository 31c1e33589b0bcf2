package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PushRepository struct {
	pool *pgxpool.Pool
}

func NewPushRepository(pool *pgxpool.Pool) *PushRepository {
	return &PushRepository{pool: pool}
}

// Save stores a browser push subscription. The endpoint is the natural key;
// re-subscribing reassigns it to the current user.
func (r *PushRepository) Save(ctx context.Context, s *model.PushSubscription) error {
	defer logger.DeferLogDuration("push.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		s.Endpoint, s.UserID, s.P256dh, s.Auth,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save: %w", err)
	}
	return nil
}

// DeleteByEndpoint removes a subscription (unsubscribe, or a dead endpoint
// reported by the push service). Idempotent.
func (r *PushRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	defer logger.DeferLogDuration("push.DeleteByEndpoint", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("pushRepo.DeleteByEndpoint: %w", err)
	}
	return nil
}

func (r *PushRepository) ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	defer logger.DeferLogDuration("push.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT endpoint, user_id, p256dh, auth FROM push_subscriptions WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pushRepo.ListByUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]model.PushSubscription, 0, 4)
	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.Endpoint, &s.UserID, &s.P256dh, &s.Auth); err != nil {
			return nil, fmt.Errorf("pushRepo.ListByUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushRepo.ListByUser rows: %w", err)
	}
	return subs, nil
}
