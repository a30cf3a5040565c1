package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/models"
)

// ErrUserNotFound is returned when a token resolves to no user record.
var ErrUserNotFound = errors.New("user not found")

// Repository reads users and host subscriptions. The users table is owned by the platform API.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID or ErrUserNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, email, username, COALESCE(avatar_url,''), verified, role, created_at, updated_at
		FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Username, &u.AvatarURL, &u.Verified, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// IsSubscriber reports whether userID holds an unexpired subscription to hostID.
func (r *Repository) IsSubscriber(ctx context.Context, hostID, userID string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM subscriptions
		WHERE creator_id = $1 AND subscriber_id = $2 AND (expires_at IS NULL OR expires_at > NOW())
	)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, hostID, userID).Scan(&ok)
	return ok, err
}
