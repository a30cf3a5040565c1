// Package store assembles the durable store used by the real-time core.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/chats"
	"github.com/aura-live/backend/internal/donations"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/streams"
)

// Postgres is the durable store backed by one pgx pool. Each repository owns its tables.
type Postgres struct {
	Streams   *streams.Repository
	Chats     *chats.Repository
	Donations *donations.Repository
	Users     *auth.Repository
}

// NewPostgres wires every repository onto pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		Streams:   streams.NewRepository(pool),
		Chats:     chats.NewRepository(pool),
		Donations: donations.NewRepository(pool),
		Users:     auth.NewRepository(pool),
	}
}

func (p *Postgres) CreateStream(ctx context.Context, s *models.Stream, chat *models.Chat) error {
	return p.Streams.CreateStream(ctx, s, chat)
}

func (p *Postgres) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	return p.Streams.GetStream(ctx, id)
}

func (p *Postgres) ListLiveStreams(ctx context.Context) ([]*models.Stream, error) {
	return p.Streams.ListLiveStreams(ctx)
}

func (p *Postgres) StartStream(ctx context.Context, id string, at time.Time) error {
	return p.Streams.StartStream(ctx, id, at)
}

func (p *Postgres) EndStream(ctx context.Context, id string, at time.Time) error {
	return p.Streams.EndStream(ctx, id, at)
}

func (p *Postgres) UpdateStream(ctx context.Context, id string, patch models.StreamPatch) (*models.Stream, error) {
	return p.Streams.UpdateStream(ctx, id, patch)
}

func (p *Postgres) AddUniqueViewer(ctx context.Context, streamID, userID string) (bool, error) {
	return p.Streams.AddUniqueViewer(ctx, streamID, userID)
}

func (p *Postgres) UpdateViewerCounts(ctx context.Context, streamID string, current, peak int) error {
	return p.Streams.UpdateViewerCounts(ctx, streamID, current, peak)
}

func (p *Postgres) SetTranscriptKey(ctx context.Context, streamID, key string) error {
	return p.Streams.SetTranscriptKey(ctx, streamID, key)
}

func (p *Postgres) AppendChatMessage(ctx context.Context, m *models.ChatMessage) error {
	return p.Chats.AppendChatMessage(ctx, m)
}

func (p *Postgres) GetChatMessage(ctx context.Context, streamID, messageID string) (*models.ChatMessage, error) {
	return p.Chats.GetChatMessage(ctx, streamID, messageID)
}

func (p *Postgres) SoftDeleteChatMessage(ctx context.Context, streamID, messageID string) error {
	return p.Chats.SoftDeleteChatMessage(ctx, streamID, messageID)
}

func (p *Postgres) ListChatMessages(ctx context.Context, streamID string) ([]models.ChatMessage, error) {
	return p.Chats.ListChatMessages(ctx, streamID)
}

func (p *Postgres) RecordReactionAggregate(ctx context.Context, agg models.ReactionAggregate) error {
	return p.Chats.RecordReactionAggregate(ctx, agg)
}

func (p *Postgres) RecordDonation(ctx context.Context, d *models.Donation) error {
	return p.Donations.RecordDonation(ctx, d)
}

func (p *Postgres) ListDonations(ctx context.Context, streamID string) ([]models.Donation, error) {
	return p.Donations.ListDonations(ctx, streamID)
}

func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return p.Users.GetByID(ctx, id)
}

func (p *Postgres) IsSubscriber(ctx context.Context, hostID, userID string) (bool, error) {
	return p.Users.IsSubscriber(ctx, hostID, userID)
}
