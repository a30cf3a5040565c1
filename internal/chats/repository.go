package chats

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/models"
)

// ErrNotFound is returned when a chat message does not exist in the given stream.
var ErrNotFound = errors.New("chat message not found")

// Repository handles stream chat messages and sampled reaction aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chats repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendChatMessage inserts m and advances the chat's last_message_id in one transaction.
func (r *Repository) AppendChatMessage(ctx context.Context, m *models.ChatMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const q = `INSERT INTO chat_messages (id, chat_id, stream_id, sender_user_id, content, reply_to, sent_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`
	if _, err := tx.Exec(ctx, q, m.ID, m.ChatID, m.StreamID, m.SenderUserID, m.Content, m.ReplyTo, m.SentAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chats SET last_message_id = $2 WHERE id = $1`, m.ChatID, m.ID); err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return tx.Commit(ctx)
}

// GetChatMessage returns one message of a stream or ErrNotFound.
func (r *Repository) GetChatMessage(ctx context.Context, streamID, messageID string) (*models.ChatMessage, error) {
	const q = `SELECT id, chat_id, stream_id, sender_user_id, content, reply_to, sent_at, deleted
		FROM chat_messages WHERE stream_id = $1 AND id = $2`
	var m models.ChatMessage
	err := r.pool.QueryRow(ctx, q, streamID, messageID).
		Scan(&m.ID, &m.ChatID, &m.StreamID, &m.SenderUserID, &m.Content, &m.ReplyTo, &m.SentAt, &m.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// SoftDeleteChatMessage flags a message as deleted. Deleting twice is not an error.
func (r *Repository) SoftDeleteChatMessage(ctx context.Context, streamID, messageID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE chat_messages SET deleted = TRUE WHERE stream_id = $1 AND id = $2`, streamID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChatMessages returns the non-deleted messages of a stream in send order.
func (r *Repository) ListChatMessages(ctx context.Context, streamID string) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, stream_id, sender_user_id, content, reply_to, sent_at, deleted
		FROM chat_messages WHERE stream_id = $1 AND deleted = FALSE ORDER BY id`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.StreamID, &m.SenderUserID, &m.Content, &m.ReplyTo, &m.SentAt, &m.Deleted); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// RecordReactionAggregate adds a sampled reaction count for one emoji window.
func (r *Repository) RecordReactionAggregate(ctx context.Context, agg models.ReactionAggregate) error {
	const q = `INSERT INTO reaction_aggregates (stream_id, emoji, window_start, count) VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, emoji, window_start) DO UPDATE SET count = reaction_aggregates.count + EXCLUDED.count`
	_, err := r.pool.Exec(ctx, q, agg.StreamID, agg.Emoji, agg.WindowStart, agg.Count)
	return err
}
