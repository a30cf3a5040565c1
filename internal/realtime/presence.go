package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/models"
)

type streamJoinedPayload struct {
	StreamID       string             `json:"stream_id"`
	Stream         *models.Stream     `json:"stream"`
	CurrentViewers int                `json:"current_viewers"`
	Role           string             `json:"role"`
	HostOnline     bool               `json:"host_online"`
	ICEServers     []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

type viewerPayload struct {
	StreamID       string              `json:"stream_id"`
	User           models.UserSnapshot `json:"user"`
	CurrentViewers int                 `json:"current_viewers"`
}

type viewerCountPayload struct {
	StreamID    string `json:"stream_id"`
	Count       int    `json:"count"`
	PeakViewers int    `json:"peak_viewers"`
}

func (h *Hub) joinStream(ctx context.Context, s *Session, data json.RawMessage) error {
	var req streamRef
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.join(ctx, s, req.StreamID)
}

func (h *Hub) join(ctx context.Context, s *Session, streamID string) error {
	r, err := h.liveRoom(ctx, streamID)
	if err != nil {
		return err
	}
	uid := s.UserID()

	// The subscription lookup goes to the store, so it runs before the room lock is taken.
	subscribed := false
	if r.streamType == models.StreamTypeSubscribersOnly && !r.isHostUser(uid) {
		if subscribed, err = h.isSubscriber(ctx, r.hostUserID(), uid); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return newError(CodeStreamEnded, "stream has ended")
	}
	if s.closed() {
		return nil
	}

	if r.isHostUser(uid) {
		if h.bindHostLocked(r, s) {
			h.send(s, EventStreamJoined, h.joinedPayloadLocked(r, uid))
		}
		return nil
	}
	if _, ok := r.sessions[s.ID]; ok {
		h.send(s, EventStreamJoined, h.joinedPayloadLocked(r, uid))
		return nil
	}
	switch r.streamType {
	case models.StreamTypePrivate:
		return newError(CodeStreamPrivate, "stream is private")
	case models.StreamTypeSubscribersOnly:
		if !subscribed && !h.privileged(r, uid) {
			return newError(CodeSubscribersOnly, "stream is for subscribers only")
		}
	}
	if r.isBanned(uid) {
		return newError(CodeBanned, "you are banned from this stream")
	}
	if !s.addRoom(r.streamID) {
		return nil
	}

	r.sessions[s.ID] = s
	h.trackUniqueLocked(r, uid)
	h.countChangedLocked(r)

	h.send(s, EventStreamJoined, h.joinedPayloadLocked(r, uid))
	h.broadcastLocked(r, EventViewerJoined, viewerPayload{
		StreamID:       r.streamID,
		User:           s.User,
		CurrentViewers: len(r.sessions),
	}, nil)
	h.logger.Debug("viewer joined", zap.String("stream_id", r.streamID), zap.String("user_id", uid), zap.Int("viewers", len(r.sessions)))
	return nil
}

func (h *Hub) joinedPayloadLocked(r *Room, uid string) streamJoinedPayload {
	return streamJoinedPayload{
		StreamID:       r.streamID,
		Stream:         r.snapshot(),
		CurrentViewers: len(r.sessions),
		Role:           r.roleOf(uid),
		HostOnline:     r.host != nil,
		ICEServers:     h.opts.ICEServers,
	}
}

// privileged users bypass subscriber gates: the host, cohosts and moderators.
func (h *Hub) privileged(r *Room, uid string) bool {
	return r.isHostUser(uid) || hasKey(r.cohosts, uid) || hasKey(r.moderators, uid)
}

func (h *Hub) isSubscriber(ctx context.Context, hostID, uid string) (bool, error) {
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	ok, err := h.store.IsSubscriber(sctx, hostID, uid)
	if err != nil {
		return false, storeErr(err)
	}
	return ok, nil
}

func (h *Hub) leaveStream(_ context.Context, s *Session, data json.RawMessage) error {
	var req streamRef
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if r := h.rooms.get(req.StreamID); r != nil {
		h.leaveRoom(r, s)
	}
	s.removeRoom(req.StreamID)
	h.send(s, EventStreamLeft, map[string]string{"stream_id": req.StreamID})
	return nil
}

// leaveRoom removes s from r. For a viewer it emits viewer_left and schedules a count update;
// for the host session it starts the grace period. Not being in the room is a no-op.
func (h *Hub) leaveRoom(r *Room, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.host == s {
		h.hostOfflineLocked(r)
		return
	}
	if _, ok := r.sessions[s.ID]; !ok {
		return
	}
	h.removeViewerLocked(r, s)
}

// removeViewerLocked drops a viewer session and emits the symmetric viewer_left. Caller holds r.mu.
func (h *Hub) removeViewerLocked(r *Room, s *Session) {
	delete(r.sessions, s.ID)
	s.removeRoom(r.streamID)
	delete(r.chatLimiters, s.UserID())
	delete(r.typingLimiters, s.UserID())
	h.broadcastLocked(r, EventViewerLeft, viewerPayload{
		StreamID:       r.streamID,
		User:           s.User,
		CurrentViewers: len(r.sessions),
	}, nil)
	h.countChangedLocked(r)
	h.logger.Debug("viewer left", zap.String("stream_id", r.streamID), zap.String("user_id", s.UserID()), zap.Int("viewers", len(r.sessions)))
}

// trackUniqueLocked records a first-time viewer. The in-memory set is capped; past the cap every
// join is forwarded and the store deduplicates.
func (h *Hub) trackUniqueLocked(r *Room, uid string) {
	if _, ok := r.seen[uid]; ok {
		return
	}
	if len(r.seen) < h.opts.UniqueViewerCap {
		r.seen[uid] = struct{}{}
		r.stream.UniqueViewers++
	}
	streamID := r.streamID
	h.persist.submit(streamID, "add_unique_viewer", func(ctx context.Context) error {
		_, err := h.store.AddUniqueViewer(ctx, streamID, uid)
		return err
	})
}

// countChangedLocked updates the peak, persists counters, and emits viewer_count_update at most
// once per interval per room. A change inside the interval is folded into one trailing emission
// carrying the latest count. Caller holds r.mu.
func (h *Hub) countChangedLocked(r *Room) {
	current := len(r.sessions)
	if current > r.peak {
		r.peak = current
	}
	streamID, peak := r.streamID, r.peak
	h.persist.submit(streamID, "update_viewer_counts", func(ctx context.Context) error {
		return h.store.UpdateViewerCounts(ctx, streamID, current, peak)
	})

	if r.countTimer != nil {
		return
	}
	wait := time.Until(r.lastCountAt.Add(h.opts.ViewerCountInterval))
	if wait <= 0 {
		h.emitCountLocked(r)
		return
	}
	r.countTimer = time.AfterFunc(wait, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.countTimer = nil
		if !r.closed {
			h.emitCountLocked(r)
		}
	})
}

func (h *Hub) emitCountLocked(r *Room) {
	r.lastCountAt = time.Now()
	h.broadcastLocked(r, EventViewerCountUpdate, viewerCountPayload{
		StreamID:    r.streamID,
		Count:       len(r.sessions),
		PeakViewers: r.peak,
	}, nil)
}
