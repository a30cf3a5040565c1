package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/chats"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/streams"
)

func newStream(t *testing.T, m *Memory, id string) *models.Stream {
	t.Helper()
	s := &models.Stream{ID: id, HostUserID: "host", Title: "t", Type: models.StreamTypePublic, ChatID: "chat-" + id}
	require.NoError(t, m.CreateStream(context.Background(), s, &models.Chat{ID: s.ChatID}))
	return s
}

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newStream(t, m, "s1")

	assert.ErrorIs(t, m.EndStream(ctx, "s1", time.Now()), streams.ErrStatusConflict)
	require.NoError(t, m.StartStream(ctx, "s1", time.Now()))
	assert.ErrorIs(t, m.StartStream(ctx, "s1", time.Now()), streams.ErrStatusConflict)

	live, err := m.ListLiveStreams(ctx)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	require.NoError(t, m.UpdateViewerCounts(ctx, "s1", 3, 3))
	require.NoError(t, m.UpdateViewerCounts(ctx, "s1", 1, 2))
	require.NoError(t, m.EndStream(ctx, "s1", time.Now()))

	s, err := m.GetStream(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusEnded, s.Status)
	assert.Equal(t, 0, s.CurrentViewers)
	assert.Equal(t, 3, s.PeakViewers)
	assert.NotNil(t, s.StartedAt)
	assert.NotNil(t, s.EndedAt)

	_, err = m.UpdateStream(ctx, "s1", models.StreamPatch{})
	assert.ErrorIs(t, err, streams.ErrStatusConflict)
	_, err = m.GetStream(ctx, "missing")
	assert.ErrorIs(t, err, streams.ErrNotFound)
}

func TestMemory_UniqueViewers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newStream(t, m, "s1")

	added, err := m.AddUniqueViewer(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = m.AddUniqueViewer(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.False(t, added)

	s, _ := m.GetStream(ctx, "s1")
	assert.Equal(t, 1, s.UniqueViewers)
}

func TestMemory_ChatAndDonations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newStream(t, m, "s1")

	require.NoError(t, m.AppendChatMessage(ctx, &models.ChatMessage{ID: "01A", ChatID: "chat-s1", StreamID: "s1", Content: "hi"}))
	require.NoError(t, m.AppendChatMessage(ctx, &models.ChatMessage{ID: "01B", ChatID: "chat-s1", StreamID: "s1", Content: "yo"}))
	require.NoError(t, m.SoftDeleteChatMessage(ctx, "s1", "01A"))
	assert.ErrorIs(t, m.SoftDeleteChatMessage(ctx, "s1", "nope"), chats.ErrNotFound)

	msgs, err := m.ListChatMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "01B", msgs[0].ID)

	deleted, err := m.GetChatMessage(ctx, "s1", "01A")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	require.NoError(t, m.RecordDonation(ctx, &models.Donation{ID: "d1", StreamID: "s1", Amount: 5, Currency: "USD"}))
	require.NoError(t, m.RecordDonation(ctx, &models.Donation{ID: "d2", StreamID: "s1", Amount: 2.5, Currency: "USD"}))
	s, _ := m.GetStream(ctx, "s1")
	assert.InDelta(t, 7.5, s.TotalEarnings, 1e-9)
}

func TestMemory_Reactions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.RecordReactionAggregate(ctx, models.ReactionAggregate{StreamID: "s1", Emoji: "🔥", Count: 3, WindowStart: w}))
	require.NoError(t, m.RecordReactionAggregate(ctx, models.ReactionAggregate{StreamID: "s1", Emoji: "🔥", Count: 2, WindowStart: w}))
	assert.Equal(t, 5, m.ReactionCount("s1", "🔥", w))
}

func TestMemory_UsersAndFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()
	m.PutUser(&models.User{ID: id, Username: "alice"})
	m.Subscribe("host", id.String())

	u, err := m.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	_, err = m.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	ok, err := m.IsSubscriber(ctx, "host", id.String())
	require.NoError(t, err)
	assert.True(t, ok)

	boom := errors.New("boom")
	m.Fail("GetByID", boom)
	_, err = m.GetByID(ctx, id)
	assert.ErrorIs(t, err, boom)
	m.Fail("GetByID", nil)
	_, err = m.GetByID(ctx, id)
	assert.NoError(t, err)
}
