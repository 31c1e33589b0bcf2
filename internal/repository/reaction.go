package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Set stores the user's reaction on a message, replacing any previous emoji.
// The (message_id, user_id) key enforces one reaction per user per message.
func (r *ReactionRepository) Set(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, created_at = now()`,
		messageID, userID, emoji,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return nil
}

// Remove deletes the user's reaction if it currently is the given emoji.
// Returns whether a row was removed, which drives toggle semantics.
func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByChannel returns every reaction in the channel, for feed snapshots.
func (r *ReactionRepository) ListByChannel(ctx context.Context, channelID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByChannel", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at
		 FROM message_reactions mr
		 JOIN messages m ON m.id = mr.message_id
		 WHERE m.channel_id = $1
		 ORDER BY mr.created_at`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByChannel query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 16)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByChannel scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByChannel rows: %w", err)
	}
	return reactions, nil
}

// GroupedByMessage returns aggregated reaction groups for one message.
func (r *ReactionRepository) GroupedByMessage(ctx context.Context, messageID string) ([]model.ReactionGroup, error) {
	defer logger.DeferLogDuration("reaction.GroupedByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT emoji, COUNT(*), array_agg(user_id::text)
		 FROM message_reactions
		 WHERE message_id = $1
		 GROUP BY emoji
		 ORDER BY MIN(created_at)`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.GroupedByMessage query: %w", err)
	}
	defer rows.Close()

	groups := make([]model.ReactionGroup, 0, 4)
	for rows.Next() {
		var g model.ReactionGroup
		if err := rows.Scan(&g.Emoji, &g.Count, &g.Users); err != nil {
			return nil, fmt.Errorf("reactionRepo.GroupedByMessage scan: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.GroupedByMessage rows: %w", err)
	}
	return groups, nil
}
