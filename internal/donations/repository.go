package donations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/models"
)

// Repository appends to the donation ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a donations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordDonation appends d and increments the stream's total_earnings in the same transaction.
func (r *Repository) RecordDonation(ctx context.Context, d *models.Donation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const q = `INSERT INTO donations (id, stream_id, donor_user_id, host_user_id, amount, currency, message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, q, d.ID, d.StreamID, d.DonorUserID, d.HostUserID, d.Amount, d.Currency, d.Message, d.SentAt); err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE streams SET total_earnings = total_earnings + $2, updated_at = NOW() WHERE id = $1`, d.StreamID, d.Amount)
	if err != nil {
		return fmt.Errorf("increment earnings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment earnings: stream %s missing", d.StreamID)
	}
	return tx.Commit(ctx)
}

// ListDonations returns a stream's donation ledger in the order received.
func (r *Repository) ListDonations(ctx context.Context, streamID string) ([]models.Donation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, stream_id, donor_user_id, host_user_id, amount, currency, message, sent_at
		FROM donations WHERE stream_id = $1 ORDER BY sent_at, id`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Donation
	for rows.Next() {
		var d models.Donation
		if err := rows.Scan(&d.ID, &d.StreamID, &d.DonorUserID, &d.HostUserID, &d.Amount, &d.Currency, &d.Message, &d.SentAt); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
