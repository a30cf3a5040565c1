package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/models"
)

var (
	// ErrNotFound is returned when no stream has the given id.
	ErrNotFound = errors.New("stream not found")
	// ErrStatusConflict is returned when a transition or update finds the stream in an unexpected status.
	ErrStatusConflict = errors.New("stream status conflict")
)

const streamColumns = `id, host_user_id, title, description, category, stream_type, features, quality, tags,
	scheduled_for, status, started_at, ended_at, current_viewers, peak_viewers, unique_viewers,
	total_earnings, room_id, stream_key_hash, chat_id, COALESCE(transcript_key, ''), created_at, updated_at`

// Repository handles streams, their paired chat and viewer bookkeeping.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a streams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateStream inserts the stream and its chat in one transaction.
func (r *Repository) CreateStream(ctx context.Context, s *models.Stream, chat *models.Chat) error {
	features, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	quality, err := json.Marshal(s.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality: %w", err)
	}
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const q = `INSERT INTO streams (id, host_user_id, title, description, category, stream_type, features, quality, tags,
		scheduled_for, status, room_id, stream_key_hash, chat_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, q, s.ID, s.HostUserID, s.Title, s.Description, s.Category, string(s.Type), features, quality, tags,
		s.ScheduledFor, string(models.StreamStatusCreated), s.RoomID, s.StreamKeyHash, s.ChatID).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert stream: %w", err)
	}
	s.Status = models.StreamStatusCreated

	err = tx.QueryRow(ctx,
		`INSERT INTO chats (id, stream_id, is_group, group_name) VALUES ($1, $2, TRUE, $3) RETURNING created_at`,
		chat.ID, s.ID, chat.GroupName).Scan(&chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	chat.StreamID = s.ID
	chat.IsGroup = true
	return tx.Commit(ctx)
}

// GetStream returns a stream by id or ErrNotFound.
func (r *Repository) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	s, err := scanStream(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListLiveStreams returns every stream currently in status live, newest first.
func (r *Repository) ListLiveStreams(ctx context.Context) ([]*models.Stream, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams WHERE status = 'live' ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// StartStream atomically moves a stream from created to live.
func (r *Repository) StartStream(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, models.StreamStatusCreated, models.StreamStatusLive,
		`UPDATE streams SET status = 'live', started_at = $2, updated_at = NOW() WHERE id = $1 AND status = 'created'`, at)
}

// EndStream atomically moves a stream from live to ended and zeroes the live viewer counter.
func (r *Repository) EndStream(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, models.StreamStatusLive, models.StreamStatusEnded,
		`UPDATE streams SET status = 'ended', ended_at = $2, current_viewers = 0, updated_at = NOW() WHERE id = $1 AND status = 'live'`, at)
}

func (r *Repository) transition(ctx context.Context, id string, from, to models.StreamStatus, q string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("%s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM streams WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

// UpdateStream applies patch to a stream that has not ended and returns the updated record.
func (r *Repository) UpdateStream(ctx context.Context, id string, patch models.StreamPatch) (*models.Stream, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s, err := scanStream(tx.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.Status == models.StreamStatusEnded {
		return nil, ErrStatusConflict
	}
	patch.Apply(s)
	features, err := json.Marshal(s.Features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	err = tx.QueryRow(ctx,
		`UPDATE streams SET title = $2, description = $3, category = $4, tags = $5, features = $6, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		id, s.Title, s.Description, s.Category, tags, features).Scan(&s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update stream: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AddUniqueViewer records userID in the stream's unique viewer set. Returns true if the user was new.
func (r *Repository) AddUniqueViewer(ctx context.Context, streamID, userID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO stream_viewers (stream_id, user_id) VALUES ($1, $2) ON CONFLICT (stream_id, user_id) DO NOTHING`,
		streamID, userID)
	if err != nil {
		return false, fmt.Errorf("insert viewer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE streams SET unique_viewers = unique_viewers + 1, updated_at = NOW() WHERE id = $1`, streamID); err != nil {
		return false, fmt.Errorf("bump unique viewers: %w", err)
	}
	return true, tx.Commit(ctx)
}

// UpdateViewerCounts stores the live viewer count; peak_viewers only ever grows.
func (r *Repository) UpdateViewerCounts(ctx context.Context, streamID string, current, peak int) error {
	const q = `UPDATE streams SET current_viewers = $2, peak_viewers = GREATEST(peak_viewers, $3), updated_at = NOW()
		WHERE id = $1 AND status = 'live'`
	_, err := r.pool.Exec(ctx, q, streamID, current, peak)
	return err
}

// SetTranscriptKey records where the chat transcript of an ended stream was exported.
func (r *Repository) SetTranscriptKey(ctx context.Context, streamID, key string) error {
	_, err := r.pool.Exec(ctx, `UPDATE streams SET transcript_key = $2, updated_at = NOW() WHERE id = $1`, streamID, key)
	return err
}

func scanStream(row pgx.Row) (*models.Stream, error) {
	var (
		s              models.Stream
		typ, status    string
		features, qual []byte
	)
	err := row.Scan(&s.ID, &s.HostUserID, &s.Title, &s.Description, &s.Category, &typ, &features, &qual, &s.Tags,
		&s.ScheduledFor, &status, &s.StartedAt, &s.EndedAt, &s.CurrentViewers, &s.PeakViewers, &s.UniqueViewers,
		&s.TotalEarnings, &s.RoomID, &s.StreamKeyHash, &s.ChatID, &s.TranscriptKey, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Type = models.StreamType(typ)
	s.Status = models.StreamStatus(status)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &s.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
	}
	if len(qual) > 0 {
		if err := json.Unmarshal(qual, &s.Quality); err != nil {
			return nil, fmt.Errorf("decode quality: %w", err)
		}
	}
	return &s, nil
}
