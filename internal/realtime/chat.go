package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aura-live/backend/internal/models"
)

const maxEmojiLength = 16

type chatRequest struct {
	streamRef
	Message   string  `json:"message"`
	ReplyToID *string `json:"reply_to_id"`
}

type chatPayload struct {
	MessageID string              `json:"message_id"`
	StreamID  string              `json:"stream_id"`
	ChatID    string              `json:"chat_id"`
	Sender    models.UserSnapshot `json:"sender"`
	Content   string              `json:"content"`
	ReplyTo   *string             `json:"reply_to"`
	SentAt    time.Time           `json:"sent_at"`
}

// chatSubscription looks up whether uid subscribes to the host when the room gates chat on it.
// The store is consulted without holding r.mu. checked is false when no lookup was needed.
func (h *Hub) chatSubscription(ctx context.Context, r *Room, uid string) (subscribed, checked bool, err error) {
	r.mu.Lock()
	need := r.stream.Features.SubscribersOnlyChat && !h.privileged(r, uid)
	r.mu.Unlock()
	if !need {
		return false, false, nil
	}
	subscribed, err = h.isSubscriber(ctx, r.hostUserID(), uid)
	return subscribed, true, err
}

// chatMessage runs the moderation gates, persists the message and only then broadcasts it.
// The room lock is held throughout, so persisted order equals delivery order. The write uses
// the session context: if the sender disconnects first, the message is neither committed nor sent.
func (h *Hub) chatMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var req chatRequest
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
	uid := s.UserID()
	subscribed, checked, err := h.chatSubscription(ctx, r, uid)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return newError(CodeStreamEnded, "stream has ended")
	}

	now := h.now()
	if !r.stream.Features.ChatEnabled {
		return newError(CodeChatDisabled, "chat is disabled for this stream")
	}
	if !r.member(s) {
		return badRequest("join the stream first")
	}
	if r.isBanned(uid) || r.timedOut(uid, now) {
		return newError(CodeChatForbidden, "you cannot chat in this stream right now")
	}
	if r.stream.Features.SubscribersOnlyChat && !h.privileged(r, uid) {
		if !checked {
			// The gate was switched on after the lookup above was skipped.
			if subscribed, err = h.isSubscriber(ctx, r.hostUserID(), uid); err != nil {
				return err
			}
		}
		if !subscribed {
			return newError(CodeSubscribersOnly, "chat is for subscribers only")
		}
	}
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return newError(CodeChatInvalid, "message is empty")
	}
	if utf8.RuneCountInString(content) > h.opts.ChatMaxLength {
		return newError(CodeChatInvalid, "message is too long")
	}
	if !h.limiter(r.chatLimiters, uid, rate.Limit(h.opts.ChatRatePerSecond), h.opts.ChatBurst).AllowN(now, 1) {
		return newError(CodeRateLimited, "slow down")
	}

	msg := &models.ChatMessage{
		ID:           ulid.Make().String(),
		ChatID:       r.stream.ChatID,
		StreamID:     r.streamID,
		SenderUserID: uid,
		Content:      content,
		ReplyTo:      req.ReplyToID,
		SentAt:       now,
	}
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	if err := h.store.AppendChatMessage(sctx, msg); err != nil {
		if s.closed() {
			return nil
		}
		h.logger.Warn("persist chat message failed", zap.String("stream_id", r.streamID), zap.Error(err))
		return storeErr(err)
	}

	payload := chatPayload{
		MessageID: msg.ID,
		StreamID:  msg.StreamID,
		ChatID:    msg.ChatID,
		Sender:    s.User,
		Content:   msg.Content,
		ReplyTo:   msg.ReplyTo,
		SentAt:    msg.SentAt,
	}
	h.broadcastLocked(r, EventChatMessage, payload, s)
	h.metrics.IncChatMessages()
	h.publish(r.streamID, EventChatMessage, payload)
	return nil
}

type typingRequest struct {
	streamRef
	IsTyping bool `json:"is_typing"`
}

type typingPayload struct {
	StreamID string `json:"stream_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// chatTyping broadcasts a typing indicator. Excess indicators and indicators that could not
// lead to a chat message are dropped silently.
func (h *Hub) chatTyping(ctx context.Context, s *Session, data json.RawMessage) error {
	var req typingRequest
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
	uid := s.UserID()
	now := h.now()
	if r.closed || !r.member(s) || !r.stream.Features.ChatEnabled || r.timedOut(uid, now) {
		return nil
	}
	if !h.limiter(r.typingLimiters, uid, rate.Every(h.opts.TypingInterval), 1).AllowN(now, 1) {
		return nil
	}
	h.broadcastLocked(r, EventChatTyping, typingPayload{
		StreamID: r.streamID,
		UserID:   uid,
		Username: s.User.Username,
		IsTyping: req.IsTyping,
	}, s)
	return nil
}

func (h *Hub) limiter(set map[string]*rate.Limiter, uid string, limit rate.Limit, burst int) *rate.Limiter {
	l, ok := set[uid]
	if !ok {
		l = rate.NewLimiter(limit, burst)
		set[uid] = l
	}
	return l
}

type reactionRequest struct {
	streamRef
	Emoji string `json:"emoji"`
}

type reactionPayload struct {
	StreamID string    `json:"stream_id"`
	UserID   string    `json:"user_id"`
	Emoji    string    `json:"emoji"`
	SentAt   time.Time `json:"sent_at"`
}

// reaction broadcasts an emoji without persisting it individually; counts are aggregated per window.
func (h *Hub) reaction(ctx context.Context, s *Session, data json.RawMessage) error {
	var req reactionRequest
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return badRequest("invalid emoji")
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
	if !r.stream.Features.ReactionsEnabled {
		return newError(CodeReactionsDisabled, "reactions are disabled for this stream")
	}
	if !r.member(s) {
		return badRequest("join the stream first")
	}
	now := h.now()
	h.broadcastLocked(r, EventReaction, reactionPayload{
		StreamID: r.streamID,
		UserID:   s.UserID(),
		Emoji:    emoji,
		SentAt:   now,
	}, s)
	h.countReactionLocked(r, emoji, now)
	return nil
}

// countReactionLocked adds one reaction to the current window, flushing the previous window
// when now has moved past it. A timer flushes the last window if reactions stop.
func (h *Hub) countReactionLocked(r *Room, emoji string, now time.Time) {
	window := now.Truncate(h.opts.ReactionWindow)
	if !r.reactionWindow.Equal(window) {
		h.flushReactionsLocked(r)
		r.reactionWindow = window
		if r.reactionTimer != nil {
			r.reactionTimer.Stop()
		}
		r.reactionTimer = time.AfterFunc(h.opts.ReactionWindow, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.reactionWindow.Equal(window) {
				h.flushReactionsLocked(r)
			}
		})
	}
	r.reactionCounts[emoji]++
}

// flushReactionsLocked persists one aggregate per emoji for the current window. Caller holds r.mu.
func (h *Hub) flushReactionsLocked(r *Room) {
	if len(r.reactionCounts) == 0 {
		return
	}
	for emoji, n := range r.reactionCounts {
		agg := models.ReactionAggregate{StreamID: r.streamID, Emoji: emoji, Count: n, WindowStart: r.reactionWindow}
		h.persist.submit(r.streamID, "reaction_aggregate", func(ctx context.Context) error {
			return h.store.RecordReactionAggregate(ctx, agg)
		})
	}
	r.reactionCounts = make(map[string]int)
}
