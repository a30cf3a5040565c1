package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/chats"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/streams"
)

// Memory is an in-process store with the same semantics as Postgres. Used by tests and local runs.
type Memory struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*models.User
	subscribers map[string]map[string]bool // hostID -> subscriberID
	streams     map[string]*models.Stream
	chatsByID   map[string]*models.Chat
	messages    map[string][]*models.ChatMessage // streamID -> messages in append order
	viewers     map[string]map[string]bool
	reactions   map[string]int // streamID|emoji|windowStart
	donations   map[string][]models.Donation
	failures    map[string]error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[uuid.UUID]*models.User),
		subscribers: make(map[string]map[string]bool),
		streams:     make(map[string]*models.Stream),
		chatsByID:   make(map[string]*models.Chat),
		messages:    make(map[string][]*models.ChatMessage),
		viewers:     make(map[string]map[string]bool),
		reactions:   make(map[string]int),
		donations:   make(map[string][]models.Donation),
		failures:    make(map[string]error),
	}
}

// Fail makes every later call of the named method return err. A nil err clears it.
func (m *Memory) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *Memory) failure(method string) error {
	return m.failures[method]
}

// PutUser adds or replaces a user record.
func (m *Memory) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.ID] = &c
}

// Subscribe records userID as a subscriber of hostID.
func (m *Memory) Subscribe(hostID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[hostID] == nil {
		m.subscribers[hostID] = make(map[string]bool)
	}
	m.subscribers[hostID][userID] = true
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetByID"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *Memory) IsSubscriber(_ context.Context, hostID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("IsSubscriber"); err != nil {
		return false, err
	}
	return m.subscribers[hostID][userID], nil
}

func (m *Memory) CreateStream(_ context.Context, s *models.Stream, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateStream"); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.Status = models.StreamStatusCreated
	s.CreatedAt, s.UpdatedAt = now, now
	chat.StreamID = s.ID
	chat.IsGroup = true
	chat.CreatedAt = now
	m.streams[s.ID] = s.Clone()
	c := *chat
	m.chatsByID[chat.ID] = &c
	return nil
}

func (m *Memory) GetStream(_ context.Context, id string) (*models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetStream"); err != nil {
		return nil, err
	}
	s, ok := m.streams[id]
	if !ok {
		return nil, streams.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) ListLiveStreams(_ context.Context) ([]*models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListLiveStreams"); err != nil {
		return nil, err
	}
	var list []*models.Stream
	for _, s := range m.streams {
		if s.Status == models.StreamStatusLive {
			list = append(list, s.Clone())
		}
	}
	return list, nil
}

func (m *Memory) StartStream(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("StartStream"); err != nil {
		return err
	}
	s, ok := m.streams[id]
	if !ok {
		return streams.ErrNotFound
	}
	if s.Status != models.StreamStatusCreated {
		return streams.ErrStatusConflict
	}
	s.Status = models.StreamStatusLive
	s.StartedAt = &at
	s.UpdatedAt = at
	return nil
}

func (m *Memory) EndStream(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("EndStream"); err != nil {
		return err
	}
	s, ok := m.streams[id]
	if !ok {
		return streams.ErrNotFound
	}
	if s.Status != models.StreamStatusLive {
		return streams.ErrStatusConflict
	}
	s.Status = models.StreamStatusEnded
	s.EndedAt = &at
	s.CurrentViewers = 0
	s.UpdatedAt = at
	return nil
}

func (m *Memory) UpdateStream(_ context.Context, id string, patch models.StreamPatch) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpdateStream"); err != nil {
		return nil, err
	}
	s, ok := m.streams[id]
	if !ok {
		return nil, streams.ErrNotFound
	}
	if s.Status == models.StreamStatusEnded {
		return nil, streams.ErrStatusConflict
	}
	patch.Apply(s)
	s.UpdatedAt = time.Now().UTC()
	return s.Clone(), nil
}

func (m *Memory) AddUniqueViewer(_ context.Context, streamID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AddUniqueViewer"); err != nil {
		return false, err
	}
	s, ok := m.streams[streamID]
	if !ok {
		return false, streams.ErrNotFound
	}
	if m.viewers[streamID] == nil {
		m.viewers[streamID] = make(map[string]bool)
	}
	if m.viewers[streamID][userID] {
		return false, nil
	}
	m.viewers[streamID][userID] = true
	s.UniqueViewers++
	return true, nil
}

func (m *Memory) UpdateViewerCounts(_ context.Context, streamID string, current, peak int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpdateViewerCounts"); err != nil {
		return err
	}
	s, ok := m.streams[streamID]
	if !ok || s.Status != models.StreamStatusLive {
		return nil
	}
	s.CurrentViewers = current
	if peak > s.PeakViewers {
		s.PeakViewers = peak
	}
	return nil
}

func (m *Memory) SetTranscriptKey(_ context.Context, streamID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SetTranscriptKey"); err != nil {
		return err
	}
	if s, ok := m.streams[streamID]; ok {
		s.TranscriptKey = key
	}
	return nil
}

func (m *Memory) AppendChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AppendChatMessage"); err != nil {
		return err
	}
	c := *msg
	m.messages[msg.StreamID] = append(m.messages[msg.StreamID], &c)
	if chat, ok := m.chatsByID[msg.ChatID]; ok {
		chat.LastMessageID = msg.ID
	}
	return nil
}

func (m *Memory) GetChatMessage(_ context.Context, streamID, messageID string) (*models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetChatMessage"); err != nil {
		return nil, err
	}
	for _, msg := range m.messages[streamID] {
		if msg.ID == messageID {
			c := *msg
			return &c, nil
		}
	}
	return nil, chats.ErrNotFound
}

func (m *Memory) SoftDeleteChatMessage(_ context.Context, streamID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SoftDeleteChatMessage"); err != nil {
		return err
	}
	for _, msg := range m.messages[streamID] {
		if msg.ID == messageID {
			msg.Deleted = true
			return nil
		}
	}
	return chats.ErrNotFound
}

func (m *Memory) ListChatMessages(_ context.Context, streamID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListChatMessages"); err != nil {
		return nil, err
	}
	var list []models.ChatMessage
	for _, msg := range m.messages[streamID] {
		if !msg.Deleted {
			list = append(list, *msg)
		}
	}
	return list, nil
}

func (m *Memory) RecordReactionAggregate(_ context.Context, agg models.ReactionAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RecordReactionAggregate"); err != nil {
		return err
	}
	m.reactions[reactionKey(agg.StreamID, agg.Emoji, agg.WindowStart)] += agg.Count
	return nil
}

// ReactionCount returns the recorded count for one emoji window.
func (m *Memory) ReactionCount(streamID, emoji string, windowStart time.Time) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reactions[reactionKey(streamID, emoji, windowStart)]
}

func reactionKey(streamID, emoji string, windowStart time.Time) string {
	return streamID + "|" + emoji + "|" + windowStart.UTC().Format(time.RFC3339Nano)
}

func (m *Memory) RecordDonation(_ context.Context, d *models.Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RecordDonation"); err != nil {
		return err
	}
	s, ok := m.streams[d.StreamID]
	if !ok {
		return streams.ErrNotFound
	}
	m.donations[d.StreamID] = append(m.donations[d.StreamID], *d)
	s.TotalEarnings += d.Amount
	return nil
}

func (m *Memory) ListDonations(_ context.Context, streamID string) ([]models.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("ListDonations"); err != nil {
		return nil, err
	}
	return append([]models.Donation(nil), m.donations[streamID]...), nil
}
