package realtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aura-live/backend/internal/models"
)

// Room is the in-memory state of one live stream. Every field below mu is guarded by it, and
// every mutation of the room and every broadcast into it happens under mu, which gives one
// total order of events per room.
type Room struct {
	// Fixed at creation and readable without mu.
	streamID   string
	hostID     string
	streamType models.StreamType

	mu sync.Mutex

	stream *models.Stream

	host     *Session
	sessions map[string]*Session // active viewer sessions, host excluded

	moderators map[string]struct{}
	cohosts    map[string]struct{}
	banned     map[string]struct{}
	timeouts   map[string]time.Time

	peak   int
	seen   map[string]struct{}
	closed bool

	graceGen      uint64
	graceTimer    *time.Timer
	graceDeadline time.Time

	lastCountAt time.Time
	countTimer  *time.Timer

	chatLimiters   map[string]*rate.Limiter
	typingLimiters map[string]*rate.Limiter

	reactionWindow time.Time
	reactionCounts map[string]int
	reactionTimer  *time.Timer
}

func newRoom(s *models.Stream) *Room {
	return &Room{
		streamID:       s.ID,
		hostID:         s.HostUserID,
		streamType:     s.Type,
		stream:         s.Clone(),
		sessions:       make(map[string]*Session),
		moderators:     make(map[string]struct{}),
		cohosts:        make(map[string]struct{}),
		banned:         make(map[string]struct{}),
		timeouts:       make(map[string]time.Time),
		peak:           s.PeakViewers,
		seen:           make(map[string]struct{}),
		chatLimiters:   make(map[string]*rate.Limiter),
		typingLimiters: make(map[string]*rate.Limiter),
		reactionCounts: make(map[string]int),
	}
}

func (r *Room) hostUserID() string { return r.hostID }

func (r *Room) isHostUser(userID string) bool { return r.hostID == userID }

func (r *Room) member(s *Session) bool {
	if r.host == s {
		return true
	}
	_, ok := r.sessions[s.ID]
	return ok
}

func (r *Room) isBanned(userID string) bool {
	_, ok := r.banned[userID]
	return ok
}

func (r *Room) timedOut(userID string, now time.Time) bool {
	exp, ok := r.timeouts[userID]
	if !ok {
		return false
	}
	if !now.Before(exp) {
		delete(r.timeouts, userID)
		return false
	}
	return true
}

// canModerate reports whether userID may run moderator actions. Delegated powers need moderation_enabled.
func (r *Room) canModerate(userID string) bool {
	if r.isHostUser(userID) {
		return true
	}
	if !r.stream.Features.ModerationEnabled {
		return false
	}
	if _, ok := r.moderators[userID]; ok {
		return true
	}
	_, ok := r.cohosts[userID]
	return ok
}

func (r *Room) roleOf(userID string) string {
	switch {
	case r.isHostUser(userID):
		return "host"
	case hasKey(r.cohosts, userID):
		return "cohost"
	case hasKey(r.moderators, userID):
		return "moderator"
	}
	return "viewer"
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// sessionsOf returns the viewer sessions of userID, plus the host session when it belongs to userID.
func (r *Room) sessionsOf(userID string) []*Session {
	var list []*Session
	if r.host != nil && r.host.UserID() == userID {
		list = append(list, r.host)
	}
	for _, s := range r.sessions {
		if s.UserID() == userID {
			list = append(list, s)
		}
	}
	return list
}

// members returns every session receiving room broadcasts: the host session and all viewers.
func (r *Room) members() []*Session {
	list := make([]*Session, 0, len(r.sessions)+1)
	if r.host != nil {
		list = append(list, r.host)
	}
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}

// snapshot returns the stream record with the room's live counters.
func (r *Room) snapshot() *models.Stream {
	s := r.stream.Clone()
	s.CurrentViewers = len(r.sessions)
	if r.peak > s.PeakViewers {
		s.PeakViewers = r.peak
	}
	return s
}

// roomRegistry maps stream_id to Room. Its lock only guards the map and is never held
// while taking a room lock.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]*Room)}
}

func (rr *roomRegistry) get(streamID string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[streamID]
}

// getOrCreate returns the room for s, creating it if absent. created is true only for the caller that inserted it.
func (rr *roomRegistry) getOrCreate(s *models.Stream) (room *Room, created bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if r, ok := rr.rooms[s.ID]; ok {
		return r, false
	}
	r := newRoom(s)
	rr.rooms[s.ID] = r
	return r, true
}

// remove deletes the entry only if it still points at r.
func (rr *roomRegistry) remove(streamID string, r *Room) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.rooms[streamID] != r {
		return false
	}
	delete(rr.rooms, streamID)
	return true
}

func (rr *roomRegistry) all() []*Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	list := make([]*Room, 0, len(rr.rooms))
	for _, r := range rr.rooms {
		list = append(list, r)
	}
	return list
}

// hostedBy returns the rooms whose stream is hosted by userID.
func (rr *roomRegistry) hostedBy(userID string) []*Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	var list []*Room
	for _, r := range rr.rooms {
		if r.hostID == userID {
			list = append(list, r)
		}
	}
	return list
}

func (rr *roomRegistry) count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}
