package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/chats"
)

const maxTimeout = 24 * time.Hour

type targetRequest struct {
	streamRef
	UserID string `json:"user_id"`
}

func (r targetRequest) validate() error {
	if err := r.streamRef.validate(); err != nil {
		return err
	}
	if r.UserID == "" {
		return badRequest("user_id is required")
	}
	return nil
}

type timeoutRequest struct {
	targetRequest
	Duration float64 `json:"duration"` // seconds
}

type messageRequest struct {
	streamRef
	MessageID string `json:"message_id"`
}

type moderationPayload struct {
	StreamID string `json:"stream_id"`
	UserID   string `json:"user_id"`
	By       string `json:"by"`
}

type timedOutPayload struct {
	StreamID  string    `json:"stream_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Duration  float64   `json:"duration"`
}

// moderate locks the live room of streamID, checks that s may moderate it and runs fn.
func (h *Hub) moderate(ctx context.Context, s *Session, streamID string, fn func(r *Room) error) error {
	r, err := h.liveRoom(ctx, streamID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return newError(CodeStreamEnded, "stream has ended")
	}
	if !r.canModerate(s.UserID()) {
		return newError(CodeNotModerator, "moderator permission required")
	}
	return fn(r)
}

// checkTarget rejects actions on the host, and actions by delegates on other delegates.
func checkTarget(r *Room, actor, target string) error {
	if r.isHostUser(target) {
		return badRequest("the host cannot be moderated")
	}
	if actor == target {
		return badRequest("cannot moderate yourself")
	}
	if !r.isHostUser(actor) && (hasKey(r.moderators, target) || hasKey(r.cohosts, target)) {
		return newError(CodeNotOwner, "only the host can moderate moderators")
	}
	return nil
}

func (h *Hub) banUser(ctx context.Context, s *Session, data json.RawMessage) error {
	var req targetRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.moderate(ctx, s, req.StreamID, func(r *Room) error {
		if err := checkTarget(r, s.UserID(), req.UserID); err != nil {
			return err
		}
		r.banned[req.UserID] = struct{}{}
		delete(r.moderators, req.UserID)
		delete(r.cohosts, req.UserID)
		delete(r.timeouts, req.UserID)
		payload := moderationPayload{StreamID: r.streamID, UserID: req.UserID, By: s.UserID()}
		for _, t := range r.sessionsOf(req.UserID) {
			h.send(t, EventBannedFromStream, payload)
			h.removeViewerLocked(r, t)
		}
		h.broadcastLocked(r, EventUserBanned, payload, nil)
		h.logger.Info("user banned", zap.String("stream_id", r.streamID), zap.String("user_id", req.UserID), zap.String("by", s.UserID()))
		return nil
	})
}

func (h *Hub) unbanUser(ctx context.Context, s *Session, data json.RawMessage) error {
	var req targetRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	return h.moderate(ctx, s, req.StreamID, func(r *Room) error {
		delete(r.banned, req.UserID)
		h.send(s, EventUserUnbanned, moderationPayload{StreamID: r.streamID, UserID: req.UserID, By: s.UserID()})
		return nil
	})
}

func (h *Hub) timeoutUser(ctx context.Context, s *Session, data json.RawMessage) error {
	var req timeoutRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	d := time.Duration(req.Duration * float64(time.Second))
	if d <= 0 || d > maxTimeout {
		return badRequest("duration must be between 1s and 24h")
	}
	return h.moderate(ctx, s, req.StreamID, func(r *Room) error {
		if err := checkTarget(r, s.UserID(), req.UserID); err != nil {
			return err
		}
		expires := h.now().Add(d)
		r.timeouts[req.UserID] = expires
		h.broadcastLocked(r, EventUserTimedOut, timedOutPayload{
			StreamID:  r.streamID,
			UserID:    req.UserID,
			ExpiresAt: expires,
			Duration:  d.Seconds(),
		}, nil)
		return nil
	})
}

func (h *Hub) deleteChatMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var req messageRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if req.MessageID == "" {
		return badRequest("message_id is required")
	}
	return h.moderate(ctx, s, req.StreamID, func(r *Room) error {
		sctx, cancel := h.storeCtx(ctx)
		defer cancel()
		if err := h.store.SoftDeleteChatMessage(sctx, r.streamID, req.MessageID); err != nil {
			if errors.Is(err, chats.ErrNotFound) {
				return badRequest("message not found")
			}
			return storeErr(err)
		}
		payload := map[string]string{"stream_id": r.streamID, "message_id": req.MessageID, "deleted_by": s.UserID()}
		h.broadcastLocked(r, EventMessageDeleted, payload, nil)
		h.publish(r.streamID, EventMessageDeleted, payload)
		return nil
	})
}

// setDelegate handles add/remove of moderators and cohosts. Host only.
func (h *Hub) setDelegate(ctx context.Context, s *Session, event string, data json.RawMessage) error {
	var req targetRequest
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
		return newError(CodeNotOwner, "only the host can change moderators")
	}
	if r.isHostUser(req.UserID) {
		return badRequest("the host already has every permission")
	}

	var out string
	switch event {
	case EventAddModerator:
		if r.isBanned(req.UserID) {
			return newError(CodeBanned, "user is banned from this stream")
		}
		r.moderators[req.UserID] = struct{}{}
		out = EventModeratorAdded
	case EventRemoveModerator:
		delete(r.moderators, req.UserID)
		out = EventModeratorRemoved
	case EventAddCohost:
		if r.isBanned(req.UserID) {
			return newError(CodeBanned, "user is banned from this stream")
		}
		r.cohosts[req.UserID] = struct{}{}
		out = EventCohostAdded
	case EventRemoveCohost:
		delete(r.cohosts, req.UserID)
		out = EventCohostRemoved
	}
	h.broadcastLocked(r, out, moderationPayload{StreamID: r.streamID, UserID: req.UserID, By: s.UserID()}, nil)
	return nil
}
