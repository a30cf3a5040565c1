package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/aura-live/backend/internal/models"
)

// Websocket close codes sent when the core ends a connection.
const (
	CloseNoToken          = 4001
	CloseBadToken         = 4002
	CloseUserNotFound     = 4003
	CloseReplaced         = 4004
	CloseBackpressure     = 4005
	CloseStreamEnded      = 4006
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseIdentityTryLater = 1013
)

// Session is one authenticated connection. It carries a snapshot of the user, never a live record.
type Session struct {
	ID          string
	User        models.UserSnapshot
	Role        models.Role
	ConnectedAt time.Time

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
	drainOnce   sync.Once

	mu          sync.Mutex
	shut        bool
	rooms       map[string]struct{}
	boundStream string
}

func newSession(id string, user models.UserSnapshot, role models.Role, buffer int, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:          id,
		User:        user,
		Role:        role,
		ConnectedAt: now,
		send:        make(chan []byte, buffer),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		rooms:       make(map[string]struct{}),
	}
}

// UserID returns the session owner's user id.
func (s *Session) UserID() string { return s.User.UserID }

// Outbound returns the channel of encoded frames waiting to be written to the connection.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed once the session has been closed by the core or the transport.
func (s *Session) Done() <-chan struct{} { return s.done }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// CloseCode returns the websocket close code chosen when the session closed, or 0 while open.
func (s *Session) CloseCode() (int, string) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closeCode, s.closeReason
	default:
		return 0, ""
	}
}

// close marks the session closed. Only the first call chooses the close code.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.shut = true
		s.closeCode = code
		s.closeReason = reason
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue hands b to the writer without blocking. It returns false only when the buffer is full.
func (s *Session) enqueue(b []byte) bool {
	if s.closed() {
		return true
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

// addRoom records membership in streamID. It refuses once the session is closed, so the
// drain in Disconnect either sees the room or the caller never enters it.
func (s *Session) addRoom(streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return false
	}
	s.rooms[streamID] = struct{}{}
	return true
}

func (s *Session) removeRoom(streamID string) {
	s.mu.Lock()
	delete(s.rooms, streamID)
	s.mu.Unlock()
}

// Rooms returns the ids of the streams this session is joined to or hosting.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) bindStream(streamID string) {
	s.mu.Lock()
	s.boundStream = streamID
	s.mu.Unlock()
}

func (s *Session) boundTo(streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundStream != "" && s.boundStream == streamID
}
