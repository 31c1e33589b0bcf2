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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append inserts the message and updates the parent channel's summary in
// one transaction. seq and created_at are assigned by the database and
// written back into m; seq is the sole per-channel ordering key.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Append begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, channel_id, sender_id, content, reply_to_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq, created_at`,
		m.ID, m.ChannelID, m.SenderID, m.Text, m.ReplyToID,
	).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.Append insert: %w", err)
	}

	for i, f := range m.Files {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_files (message_id, position, file_name, content_type, file_size, url)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, i, f.Name, f.ContentType, f.Size, f.URL,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.Append file: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE channels SET last_message_text = $1, last_message_at = $2, last_message_sender_id = $3
		 WHERE id = $4`,
		summaryText(m), m.CreatedAt, m.SenderID, m.ChannelID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Append summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Append commit: %w", err)
	}
	return nil
}

// summaryText is the channel-list preview for a message.
func summaryText(m *model.Message) string {
	if m.Text != "" {
		return m.Text
	}
	if len(m.Files) > 0 {
		return m.Files[0].Name
	}
	return ""
}

const messageCols = `m.id, m.channel_id, m.sender_id, m.content, m.reply_to_id, m.seq, m.created_at,
	        u.id, u.display_name, u.email, u.avatar_url, u.role, u.is_online, u.last_seen_at, u.created_at`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	sender := &model.User{}
	err := s.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Text, &m.ReplyToID, &m.Seq, &m.CreatedAt,
		&sender.ID, &sender.DisplayName, &sender.Email, &sender.AvatarURL, &sender.Role, &sender.IsOnline, &sender.LastSeenAt, &sender.CreatedAt)
	if err != nil {
		return err
	}
	m.Sender = sender
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	if err := r.attachFiles(ctx, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByChannel returns messages newest-first for paginated history reads.
func (r *MessageRepository) ListByChannel(ctx context.Context, channelID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChannel", time.Now())()
	return r.list(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.channel_id = $1
		 ORDER BY m.seq DESC
		 LIMIT $2 OFFSET $3`, channelID, limit, offset)
}

// ListAscending returns up to limit most recent messages in feed order
// (seq ascending, non-decreasing at every observation).
func (r *MessageRepository) ListAscending(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListAscending", time.Now())()
	return r.list(ctx,
		`SELECT * FROM (
		   SELECT `+messageCols+`
		   FROM messages m
		   JOIN users u ON u.id = m.sender_id
		   WHERE m.channel_id = $1
		   ORDER BY m.seq DESC
		   LIMIT $2
		 ) sub ORDER BY sub.seq ASC`, channelID, limit)
}

func (r *MessageRepository) list(ctx context.Context, sql string, args ...any) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.list query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.list scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.list rows: %w", err)
	}

	ptrs := make([]*model.Message, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	if err := r.attachFiles(ctx, ptrs); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachFiles loads attachment metadata for the given messages in one query.
func (r *MessageRepository) attachFiles(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, file_name, content_type, file_size, url
		 FROM message_files WHERE message_id = ANY($1) ORDER BY message_id, position`, ids,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.attachFiles query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var f model.FileMeta
		if err := rows.Scan(&msgID, &f.Name, &f.ContentType, &f.Size, &f.URL); err != nil {
			return fmt.Errorf("msgRepo.attachFiles scan: %w", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Files = append(m.Files, f)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.attachFiles rows: %w", err)
	}
	return nil
}

// Delete removes the message permanently; files and reactions cascade.
// Replies referencing the message keep their reply_to_id and dangle.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.Delete: %w", err)
	}
	return nil
}

// MarkReadUpTo advances the user's read watermark for the channel. GREATEST
// keeps the watermark monotonic under concurrent or out-of-order marks.
func (r *MessageRepository) MarkReadUpTo(ctx context.Context, channelID, userID string, seq int64) error {
	defer logger.DeferLogDuration("msg.MarkReadUpTo", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_reads (channel_id, user_id, last_read_seq, read_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (channel_id, user_id) DO UPDATE SET
		   last_read_seq = GREATEST(channel_reads.last_read_seq, EXCLUDED.last_read_seq),
		   read_at = EXCLUDED.read_at`,
		channelID, userID, seq, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkReadUpTo: %w", err)
	}
	return nil
}

// ListReads returns each participant's read watermark for the channel.
func (r *MessageRepository) ListReads(ctx context.Context, channelID string) (map[string]int64, error) {
	defer logger.DeferLogDuration("msg.ListReads", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, last_read_seq FROM channel_reads WHERE channel_id = $1`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListReads query: %w", err)
	}
	defer rows.Close()

	reads := make(map[string]int64, 2)
	for rows.Next() {
		var userID string
		var seq int64
		if err := rows.Scan(&userID, &seq); err != nil {
			return nil, fmt.Errorf("msgRepo.ListReads scan: %w", err)
		}
		reads[userID] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListReads rows: %w", err)
	}
	return reads, nil
}
