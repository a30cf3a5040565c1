package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/streams"
	"github.com/aura-live/backend/pkg/utils"
)

const graceRetry = 5 * time.Second

type createStreamRequest struct {
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Category     string               `json:"category"`
	StreamType   models.StreamType    `json:"stream_type"`
	Features     json.RawMessage      `json:"features"`
	Quality      models.StreamQuality `json:"quality"`
	Tags         []string             `json:"tags"`
	ScheduledFor *time.Time           `json:"scheduled_for"`
}

type streamCreatedPayload struct {
	Stream       *models.Stream     `json:"stream"`
	StreamID     string             `json:"stream_id"`
	StreamKey    string             `json:"stream_key"`
	RoomID       string             `json:"room_id"`
	ChatID       string             `json:"chat_id"`
	SignalingURL string             `json:"signaling_url"`
	ICEServers   []webrtc.ICEServer `json:"ice_servers"`
}

type streamStatePayload struct {
	StreamID   string             `json:"stream_id"`
	Stream     *models.Stream     `json:"stream"`
	ICEServers []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

type streamEndedPayload struct {
	StreamID    string    `json:"stream_id"`
	EndedAt     time.Time `json:"ended_at"`
	Reason      string    `json:"reason"`
	PeakViewers int       `json:"peak_viewers"`
}

func (h *Hub) createStream(ctx context.Context, s *Session, data json.RawMessage) error {
	var req createStreamRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return badRequest("title is required")
	}
	if req.StreamType == "" {
		req.StreamType = models.StreamTypePublic
	}
	if !req.StreamType.Valid() {
		return badRequest("unknown stream_type: " + string(req.StreamType))
	}
	// Flags omitted by the client keep their default value.
	features := models.DefaultStreamFeatures()
	if len(req.Features) > 0 && string(req.Features) != "null" {
		if err := json.Unmarshal(req.Features, &features); err != nil {
			return badRequest("malformed features")
		}
	}

	streamID, err := utils.NewOpaqueID()
	if err != nil {
		return err
	}
	key, err := utils.NewOpaqueID()
	if err != nil {
		return err
	}
	keyHash, err := utils.HashStreamKey(key)
	if err != nil {
		return err
	}
	st := &models.Stream{
		ID:            streamID,
		HostUserID:    s.UserID(),
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Type:          req.StreamType,
		Features:      features,
		Quality:       req.Quality,
		Tags:          req.Tags,
		ScheduledFor:  req.ScheduledFor,
		Status:        models.StreamStatusCreated,
		RoomID:        "room_" + streamID,
		StreamKeyHash: keyHash,
		ChatID:        uuid.NewString(),
	}
	chat := &models.Chat{ID: st.ChatID, GroupName: req.Title}

	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	if err := h.store.CreateStream(sctx, st, chat); err != nil {
		h.logger.Error("create stream failed", zap.String("user_id", s.UserID()), zap.Error(err))
		return storeErr(err)
	}
	h.logger.Info("stream created", zap.String("stream_id", st.ID), zap.String("user_id", s.UserID()))
	h.send(s, EventStreamCreated, streamCreatedPayload{
		Stream:       st,
		StreamID:     st.ID,
		StreamKey:    key,
		RoomID:       st.RoomID,
		ChatID:       st.ChatID,
		SignalingURL: h.opts.SignalingURL,
		ICEServers:   h.opts.ICEServers,
	})
	return nil
}

// loadStream reads a stream and maps store failures to the frame taxonomy.
func (h *Hub) loadStream(ctx context.Context, streamID string) (*models.Stream, error) {
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	st, err := h.store.GetStream(sctx, streamID)
	if err != nil {
		if errors.Is(err, streams.ErrNotFound) {
			return nil, newError(CodeStreamNotFound, "stream not found")
		}
		return nil, storeErr(err)
	}
	return st, nil
}

func (h *Hub) startStream(ctx context.Context, s *Session, data json.RawMessage) error {
	var req streamRef
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	st, err := h.loadStream(ctx, req.StreamID)
	if err != nil {
		return err
	}
	if st.HostUserID != s.UserID() {
		return newError(CodeNotOwner, "only the host can start this stream")
	}
	switch st.Status {
	case models.StreamStatusEnded:
		return newError(CodeStreamEnded, "stream has ended")
	case models.StreamStatusLive:
		return newError(CodeInvalidTransition, "stream is already live")
	}

	at := h.now()
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	if err := h.store.StartStream(sctx, st.ID, at); err != nil {
		if errors.Is(err, streams.ErrStatusConflict) {
			return newError(CodeInvalidTransition, "stream is not in created state")
		}
		return storeErr(err)
	}
	st.Status = models.StreamStatusLive
	st.StartedAt = &at

	r, created := h.rooms.getOrCreate(st)
	if created {
		h.metrics.AddRooms(1)
	}
	r.mu.Lock()
	if h.bindHostLocked(r, s) {
		h.send(s, EventStreamStarted, streamStatePayload{StreamID: st.ID, Stream: r.snapshot(), ICEServers: h.opts.ICEServers})
	} else if r.host == nil && r.graceTimer == nil {
		// The host left while the transition was in flight.
		h.hostOfflineLocked(r)
	}
	r.mu.Unlock()

	h.logger.Info("stream started", zap.String("stream_id", st.ID), zap.String("user_id", s.UserID()))
	discovery := map[string]interface{}{
		"stream_id":  st.ID,
		"host":       s.User,
		"title":      st.Title,
		"category":   st.Category,
		"tags":       st.Tags,
		"started_at": at,
	}
	if st.Type != models.StreamTypePrivate {
		h.announce(EventNewLiveStream, discovery)
	}
	h.publish(st.ID, EventStreamStarted, discovery)
	return nil
}

func (h *Hub) endStream(ctx context.Context, s *Session, data json.RawMessage) error {
	var req streamRef
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	if r := h.rooms.get(req.StreamID); r != nil {
		r.mu.Lock()
		if !r.closed {
			if !r.isHostUser(s.UserID()) {
				r.mu.Unlock()
				return newError(CodeNotOwner, "only the host can end this stream")
			}
			members, payload, err := h.endLocked(r, "host_ended")
			r.mu.Unlock()
			if err != nil {
				return err
			}
			if !containsSession(members, s) {
				h.send(s, EventStreamEnded, payload)
			}
			h.finishEnd(r, members, payload)
			return nil
		}
		r.mu.Unlock()
	}

	st, err := h.loadStream(ctx, req.StreamID)
	if err != nil {
		return err
	}
	if st.HostUserID != s.UserID() {
		return newError(CodeNotOwner, "only the host can end this stream")
	}
	switch st.Status {
	case models.StreamStatusCreated:
		return newError(CodeInvalidTransition, "stream has not started")
	case models.StreamStatusEnded:
		// Repeating end is a no-op success.
		h.send(s, EventStreamEnded, streamEndedPayload{StreamID: st.ID, EndedAt: derefTime(st.EndedAt), Reason: "host_ended", PeakViewers: st.PeakViewers})
		return nil
	}
	// Live in the store but no room in memory: end it through a reconciled room.
	r, err := h.reconcileRoom(st)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.send(s, EventStreamEnded, streamEndedPayload{StreamID: st.ID, EndedAt: h.now(), Reason: "host_ended", PeakViewers: st.PeakViewers})
		return nil
	}
	members, payload, err := h.endLocked(r, "host_ended")
	r.mu.Unlock()
	if err != nil {
		return err
	}
	h.send(s, EventStreamEnded, payload)
	h.finishEnd(r, members, payload)
	return nil
}

// ForceEnd ends a live stream on behalf of an operator, bypassing the owner check.
func (h *Hub) ForceEnd(ctx context.Context, streamID, reason string) error {
	r := h.rooms.get(streamID)
	if r == nil {
		st, err := h.loadStream(ctx, streamID)
		if err != nil {
			return err
		}
		switch st.Status {
		case models.StreamStatusCreated:
			return newError(CodeInvalidTransition, "stream has not started")
		case models.StreamStatusEnded:
			return nil
		}
		if r, err = h.reconcileRoom(st); err != nil {
			return err
		}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	members, payload, err := h.endLocked(r, reason)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	h.finishEnd(r, members, payload)
	return nil
}

// endLocked moves the stream to ended in the store, then tears the room down and broadcasts
// stream_ended. On store failure the room is left untouched. Caller holds r.mu.
func (h *Hub) endLocked(r *Room, reason string) ([]*Session, streamEndedPayload, error) {
	at := h.now()
	ctx, cancel := h.storeCtx(context.Background())
	defer cancel()
	if err := h.store.EndStream(ctx, r.streamID, at); err != nil && !errors.Is(err, streams.ErrStatusConflict) {
		h.logger.Error("end stream failed", zap.String("stream_id", r.streamID), zap.Error(err))
		return nil, streamEndedPayload{}, storeErr(err)
	}
	payload := streamEndedPayload{StreamID: r.streamID, EndedAt: at, Reason: reason, PeakViewers: r.peak}
	h.broadcastLocked(r, EventStreamEnded, payload, nil)
	h.stopTimersLocked(r)
	h.flushReactionsLocked(r)

	members := r.members()
	r.closed = true
	r.host = nil
	r.sessions = make(map[string]*Session)
	r.stream.Status = models.StreamStatusEnded
	r.stream.EndedAt = &at
	return members, payload, nil
}

// finishEnd runs the teardown that must not happen under the room lock.
func (h *Hub) finishEnd(r *Room, members []*Session, payload streamEndedPayload) {
	if h.rooms.remove(r.streamID, r) {
		h.metrics.AddRooms(-1)
	}
	for _, m := range members {
		m.removeRoom(r.streamID)
		if m.boundTo(r.streamID) {
			go h.Disconnect(m, CloseStreamEnded, "stream ended")
		}
	}
	h.logger.Info("stream ended", zap.String("stream_id", r.streamID), zap.String("reason", payload.Reason))
	h.publish(r.streamID, EventStreamEnded, payload)
	if h.jobs != nil {
		streamID := r.streamID
		h.persist.submit(streamID, "enqueue_transcript", func(ctx context.Context) error {
			return h.jobs.EnqueueTranscriptExport(ctx, streamID)
		})
	}
}

type updateStreamRequest struct {
	streamRef
	Patch models.StreamPatch `json:"patch"`
}

func (h *Hub) updateStream(ctx context.Context, s *Session, data json.RawMessage) error {
	var req updateStreamRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if req.Patch.Empty() {
		return badRequest("patch is empty")
	}
	if req.Patch.Title != nil && strings.TrimSpace(*req.Patch.Title) == "" {
		return badRequest("title cannot be empty")
	}

	if r := h.rooms.get(req.StreamID); r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return newError(CodeStreamEnded, "stream has ended")
		}
		if !r.isHostUser(s.UserID()) {
			return newError(CodeNotOwner, "only the host can update this stream")
		}
		updated, err := h.applyUpdate(ctx, req.StreamID, req.Patch)
		if err != nil {
			return err
		}
		r.stream.Title = updated.Title
		r.stream.Description = updated.Description
		r.stream.Category = updated.Category
		r.stream.Tags = updated.Tags
		r.stream.Features = updated.Features
		payload := streamStatePayload{StreamID: r.streamID, Stream: r.snapshot()}
		h.broadcastLocked(r, EventStreamUpdated, payload, s)
		h.send(s, EventStreamUpdated, payload)
		return nil
	}

	st, err := h.loadStream(ctx, req.StreamID)
	if err != nil {
		return err
	}
	if st.HostUserID != s.UserID() {
		return newError(CodeNotOwner, "only the host can update this stream")
	}
	if st.Status == models.StreamStatusEnded {
		return newError(CodeStreamEnded, "stream has ended")
	}
	updated, err := h.applyUpdate(ctx, req.StreamID, req.Patch)
	if err != nil {
		return err
	}
	h.send(s, EventStreamUpdated, streamStatePayload{StreamID: updated.ID, Stream: updated})
	return nil
}

func (h *Hub) applyUpdate(ctx context.Context, streamID string, patch models.StreamPatch) (*models.Stream, error) {
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	updated, err := h.store.UpdateStream(sctx, streamID, patch)
	switch {
	case errors.Is(err, streams.ErrStatusConflict):
		return nil, newError(CodeStreamEnded, "stream has ended")
	case errors.Is(err, streams.ErrNotFound):
		return nil, newError(CodeStreamNotFound, "stream not found")
	case err != nil:
		return nil, storeErr(err)
	}
	return updated, nil
}

type resumeStreamRequest struct {
	streamRef
	StreamKey string `json:"stream_key"`
}

func (h *Hub) resumeStream(ctx context.Context, s *Session, data json.RawMessage) error {
	var req resumeStreamRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	r, err := h.liveRoom(ctx, req.StreamID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return newError(CodeStreamEnded, "stream has ended")
	}
	if !r.isHostUser(s.UserID()) {
		return newError(CodeNotOwner, "only the host can resume this stream")
	}
	if req.StreamKey != "" && !utils.CheckStreamKey(req.StreamKey, r.stream.StreamKeyHash) {
		return newError(CodeNotOwner, "stream key does not match")
	}
	if !h.bindHostLocked(r, s) {
		return nil
	}
	h.send(s, EventStreamResumed, streamStatePayload{StreamID: r.streamID, Stream: r.snapshot(), ICEServers: h.opts.ICEServers})
	return nil
}

// resumeHostedRooms rebinds s as host of every room of its user waiting for the host.
// Rooms hosted by other users are never locked.
func (h *Hub) resumeHostedRooms(s *Session) {
	for _, r := range h.rooms.hostedBy(s.UserID()) {
		r.mu.Lock()
		if !r.closed && r.host == nil && h.bindHostLocked(r, s) {
			h.send(s, EventStreamResumed, streamStatePayload{StreamID: r.streamID, Stream: r.snapshot(), ICEServers: h.opts.ICEServers})
			h.logger.Info("host resumed stream", zap.String("stream_id", r.streamID), zap.String("session_id", s.ID))
		}
		r.mu.Unlock()
	}
}

// bindHostLocked makes s the host session of r and cancels a pending grace expiry. It reports
// false and leaves r untouched when s has already closed. Caller holds r.mu.
func (h *Hub) bindHostLocked(r *Room, s *Session) bool {
	if !s.addRoom(r.streamID) {
		return false
	}
	if prev := r.host; prev != nil && prev != s {
		prev.removeRoom(r.streamID)
	}
	if _, ok := r.sessions[s.ID]; ok {
		delete(r.sessions, s.ID)
		h.countChangedLocked(r)
	}
	r.host = s
	r.graceGen++
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	r.graceDeadline = time.Time{}
	return true
}

// hostOfflineLocked detaches the host session and arms the grace timer. Caller holds r.mu.
func (h *Hub) hostOfflineLocked(r *Room) {
	r.host = nil
	h.armGraceLocked(r, h.opts.GracePeriod)
	h.logger.Info("host offline, grace period started",
		zap.String("stream_id", r.streamID), zap.Duration("grace", h.opts.GracePeriod))
}

func (h *Hub) armGraceLocked(r *Room, d time.Duration) {
	r.graceGen++
	gen := r.graceGen
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceDeadline = h.now().Add(d)
	r.graceTimer = time.AfterFunc(d, func() { h.graceExpired(r, gen) })
}

func (h *Hub) graceExpired(r *Room, gen uint64) {
	r.mu.Lock()
	if r.closed || r.host != nil || r.graceGen != gen {
		r.mu.Unlock()
		return
	}
	r.graceTimer = nil
	members, payload, err := h.endLocked(r, "host_timeout")
	if err != nil {
		h.armGraceLocked(r, graceRetry)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	h.finishEnd(r, members, payload)
}

func (h *Hub) stopTimersLocked(r *Room) {
	r.graceGen++
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	if r.countTimer != nil {
		r.countTimer.Stop()
		r.countTimer = nil
	}
	if r.reactionTimer != nil {
		r.reactionTimer.Stop()
		r.reactionTimer = nil
	}
}

// liveRoom returns the room of a live stream, recreating it from the store when the stream
// is live but not held in memory.
func (h *Hub) liveRoom(ctx context.Context, streamID string) (*Room, error) {
	if streamID == "" {
		return nil, badRequest("stream_id is required")
	}
	if r := h.rooms.get(streamID); r != nil {
		return r, nil
	}
	st, err := h.loadStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case models.StreamStatusCreated:
		return nil, newError(CodeStreamNotLive, "stream is not live")
	case models.StreamStatusEnded:
		return nil, newError(CodeStreamEnded, "stream has ended")
	}
	return h.reconcileRoom(st)
}

// reconcileRoom creates the room of a live stream with the host offline and the grace timer running.
func (h *Hub) reconcileRoom(st *models.Stream) (*Room, error) {
	r, created := h.rooms.getOrCreate(st)
	if !created {
		return r, nil
	}
	h.metrics.AddRooms(1)
	r.mu.Lock()
	if r.host == nil && !r.closed {
		h.armGraceLocked(r, h.opts.GracePeriod)
	}
	r.mu.Unlock()
	h.logger.Info("room reconciled from store", zap.String("stream_id", st.ID))
	return r, nil
}

// Reconcile recreates rooms for every stream the store reports live. Hosts get the grace
// period to reconnect before those streams auto-end.
func (h *Hub) Reconcile(ctx context.Context) (int, error) {
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	live, err := h.store.ListLiveStreams(sctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, st := range live {
		if h.rooms.get(st.ID) != nil {
			continue
		}
		if _, err := h.reconcileRoom(st); err == nil {
			n++
		}
	}
	return n, nil
}

func containsSession(list []*Session, s *Session) bool {
	for _, m := range list {
		if m == s {
			return true
		}
	}
	return false
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
