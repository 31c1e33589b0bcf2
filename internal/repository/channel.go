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

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

const channelCols = `id, user_a, user_b, created_at, last_message_text, last_message_at, last_message_sender_id`

func scanChannel(s interface{ Scan(dest ...any) error }, c *model.Channel) error {
	return s.Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.LastMessageText, &c.LastMessageAt, &c.LastMessageSenderID)
}

// CreateIfAbsent inserts the channel keyed by its canonical pair-key id.
// A concurrent create for the same pair is a no-op: the id is deterministic,
// so creation is idempotent without a query-then-create race.
func (r *ChannelRepository) CreateIfAbsent(ctx context.Context, c *model.Channel) error {
	defer logger.DeferLogDuration("channel.CreateIfAbsent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channels (id, user_a, user_b, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.UserA, c.UserB, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("channelRepo.CreateIfAbsent: %w", err)
	}
	return nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.GetByID", time.Now())()
	c := &model.Channel{}
	row := r.pool.QueryRow(ctx, `SELECT `+channelCols+` FROM channels WHERE id = $1`, id)
	if err := scanChannel(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForUser returns the user's channels, most recently active first.
func (r *ChannelRepository) ListForUser(ctx context.Context, userID string) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelCols+` FROM channels
		 WHERE user_a = $1 OR user_b = $1
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	channels := make([]model.Channel, 0, 16)
	for rows.Next() {
		var c model.Channel
		if err := scanChannel(rows, &c); err != nil {
			return nil, fmt.Errorf("channelRepo.ListForUser scan: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.ListForUser rows: %w", err)
	}
	return channels, nil
}

// UnreadCount counts messages from other senders past the user's read
// watermark (see channel_reads; no per-message read map is kept).
func (r *ChannelRepository) UnreadCount(ctx context.Context, channelID, userID string) (int, error) {
	defer logger.DeferLogDuration("channel.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.channel_id = $1 AND m.sender_id != $2
		   AND m.seq > COALESCE(
		     (SELECT last_read_seq FROM channel_reads WHERE channel_id = $1 AND user_id = $2), 0)`,
		channelID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("channelRepo.UnreadCount: %w", err)
	}
	return count, nil
}
