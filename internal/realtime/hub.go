package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-live/backend/config"
	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/metrics"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/monetization"
)

// Store is the durable store the core writes through.
type Store interface {
	CreateStream(ctx context.Context, s *models.Stream, chat *models.Chat) error
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	ListLiveStreams(ctx context.Context) ([]*models.Stream, error)
	StartStream(ctx context.Context, id string, at time.Time) error
	EndStream(ctx context.Context, id string, at time.Time) error
	UpdateStream(ctx context.Context, id string, patch models.StreamPatch) (*models.Stream, error)
	AddUniqueViewer(ctx context.Context, streamID, userID string) (bool, error)
	UpdateViewerCounts(ctx context.Context, streamID string, current, peak int) error
	AppendChatMessage(ctx context.Context, m *models.ChatMessage) error
	SoftDeleteChatMessage(ctx context.Context, streamID, messageID string) error
	RecordReactionAggregate(ctx context.Context, agg models.ReactionAggregate) error
	RecordDonation(ctx context.Context, d *models.Donation) error
	IsSubscriber(ctx context.Context, hostID, userID string) (bool, error)
}

// EventPublisher forwards durable domain events to downstream consumers.
type EventPublisher interface {
	PublishStreamEvent(ctx context.Context, streamID, event string, payload []byte) error
	PublishDiscovery(ctx context.Context, event string, payload []byte) error
}

// TranscriptQueue schedules the chat transcript export of an ended stream.
type TranscriptQueue interface {
	EnqueueTranscriptExport(ctx context.Context, streamID string) error
}

// Options tunes the core. Zero values fall back to the defaults in withDefaults.
type Options struct {
	GracePeriod         time.Duration
	ViewerCountInterval time.Duration
	ChatMaxLength       int
	ChatRatePerSecond   float64
	ChatBurst           int
	TypingInterval      time.Duration
	ReactionWindow      time.Duration
	SendBuffer          int
	PersistWorkers      int
	UniqueViewerCap     int
	AllowedCurrencies   []string
	StoreTimeout        time.Duration
	SinkTimeout         time.Duration
	SignalingURL        string
	ICEServers          []webrtc.ICEServer

	// GraceSet marks GracePeriod as explicit so that a zero grace period is honoured.
	GraceSet bool
	Now      func() time.Time
}

// OptionsFromConfig builds hub options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	var ice []webrtc.ICEServer
	if len(cfg.WebRTC.ICEUrls) > 0 {
		ice = []webrtc.ICEServer{{URLs: cfg.WebRTC.ICEUrls}}
	}
	return Options{
		GracePeriod:         cfg.Live.GracePeriod,
		GraceSet:            true,
		ViewerCountInterval: cfg.Live.ViewerCountInterval,
		ChatMaxLength:       cfg.Live.ChatMaxLength,
		ChatRatePerSecond:   cfg.Live.ChatRatePerSecond,
		ChatBurst:           cfg.Live.ChatBurst,
		TypingInterval:      cfg.Live.TypingInterval,
		ReactionWindow:      cfg.Live.ReactionWindow,
		SendBuffer:          cfg.Live.SendBuffer,
		PersistWorkers:      cfg.Live.PersistWorkers,
		UniqueViewerCap:     cfg.Live.UniqueViewerCap,
		AllowedCurrencies:   cfg.Live.AllowedCurrencies,
		StoreTimeout:        cfg.Live.StoreTimeout,
		SinkTimeout:         cfg.Live.SinkTimeout,
		SignalingURL:        cfg.Server.PublicURL + "/ws",
		ICEServers:          ice,
	}
}

func (o Options) withDefaults() Options {
	if !o.GraceSet && o.GracePeriod == 0 {
		o.GracePeriod = 60 * time.Second
	}
	if o.ViewerCountInterval <= 0 {
		o.ViewerCountInterval = 500 * time.Millisecond
	}
	if o.ChatMaxLength <= 0 {
		o.ChatMaxLength = 500
	}
	if o.ChatRatePerSecond <= 0 {
		o.ChatRatePerSecond = 5
	}
	if o.ChatBurst <= 0 {
		o.ChatBurst = 10
	}
	if o.TypingInterval <= 0 {
		o.TypingInterval = 2 * time.Second
	}
	if o.ReactionWindow <= 0 {
		o.ReactionWindow = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PersistWorkers <= 0 {
		o.PersistWorkers = 4
	}
	if o.UniqueViewerCap <= 0 {
		o.UniqueViewerCap = 10000
	}
	if len(o.AllowedCurrencies) == 0 {
		o.AllowedCurrencies = []string{"USD", "EUR", "GBP", "INR", "JPY"}
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = 20 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Hub owns the connection and room registries and dispatches inbound frames.
type Hub struct {
	store      Store
	sink       monetization.Sink
	opts       Options
	currencies map[string]struct{}
	logger     *zap.Logger
	metrics    *metrics.Metrics
	events     EventPublisher
	jobs       TranscriptQueue

	sessions *sessionRegistry
	rooms    *roomRegistry
	persist  *persister
}

// NewHub creates the coordination core. sink may be nil, in which case every donation is accepted.
func NewHub(store Store, sink monetization.Sink, opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = monetization.AcceptAll{}
	}
	opts = opts.withDefaults()
	currencies := make(map[string]struct{}, len(opts.AllowedCurrencies))
	for _, c := range opts.AllowedCurrencies {
		currencies[strings.ToUpper(c)] = struct{}{}
	}
	return &Hub{
		store:      store,
		sink:       sink,
		opts:       opts,
		currencies: currencies,
		logger:     logger,
		sessions:   newSessionRegistry(),
		rooms:      newRoomRegistry(),
		persist:    newPersister(opts.PersistWorkers, 1024, opts.StoreTimeout, logger),
	}
}

// SetMetrics attaches Prometheus collectors.
func (h *Hub) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SetEventPublisher attaches the downstream domain event publisher.
func (h *Hub) SetEventPublisher(p EventPublisher) { h.events = p }

// SetTranscriptQueue attaches the transcript export queue.
func (h *Hub) SetTranscriptQueue(q TranscriptQueue) { h.jobs = q }

func (h *Hub) now() time.Time { return h.opts.Now() }

// Connect registers an authenticated session. A previous session of the same user is closed
// with ReplacedElsewhere and drained first. If the user hosts a stream waiting in its grace
// window, the new session resumes it.
func (h *Hub) Connect(id *auth.Identity) *Session {
	s := newSession(uuid.NewString(), id.User, id.Role, h.opts.SendBuffer, h.now())
	if prev := h.sessions.register(s); prev != nil {
		h.logger.Info("session replaced", zap.String("user_id", s.UserID()), zap.String("session_id", prev.ID))
		h.Disconnect(prev, CloseReplaced, "replaced elsewhere")
	}
	h.metrics.AddSessions(1)
	h.deliver(s, encodeFrame(EventConnected, map[string]interface{}{
		"session_id": s.ID,
		"user":       s.User,
	}))
	h.resumeHostedRooms(s)
	h.logger.Debug("session connected", zap.String("session_id", s.ID), zap.String("user_id", s.UserID()))
	return s
}

// Disconnect closes s and drains it from every room before purging it from the registry.
// Calling it more than once has no further effect.
func (h *Hub) Disconnect(s *Session, code int, reason string) {
	s.close(code, reason)
	s.drainOnce.Do(func() {
		for _, streamID := range s.Rooms() {
			if r := h.rooms.get(streamID); r != nil {
				h.leaveRoom(r, s)
			}
			s.removeRoom(streamID)
		}
		h.sessions.remove(s)
		h.metrics.AddSessions(-1)
		code, _ := s.CloseCode()
		h.metrics.IncClose(code)
		h.logger.Debug("session disconnected", zap.String("session_id", s.ID), zap.String("user_id", s.UserID()), zap.Int("code", code))
	})
}

// Handle dispatches one inbound frame from s. Errors are answered with stream_error to s only.
func (h *Hub) Handle(s *Session, f Frame) {
	if s.closed() {
		return
	}
	h.metrics.IncFrame(f.Type)
	ctx := s.Context()

	var err error
	switch f.Type {
	case EventPing:
		h.deliver(s, encodeFrame(EventPong, map[string]int64{"at": h.now().UnixMilli()}))
	case EventCreateStream:
		err = h.createStream(ctx, s, f.Data)
	case EventStartStream:
		err = h.startStream(ctx, s, f.Data)
	case EventEndStream:
		err = h.endStream(ctx, s, f.Data)
	case EventUpdateStream:
		err = h.updateStream(ctx, s, f.Data)
	case EventResumeStream:
		err = h.resumeStream(ctx, s, f.Data)
	case EventJoinStream:
		err = h.joinStream(ctx, s, f.Data)
	case EventLeaveStream:
		err = h.leaveStream(ctx, s, f.Data)
	case EventOffer, EventAnswer, EventICECandidate:
		err = h.signal(ctx, s, f.Type, f.Data)
	case EventChatMessage:
		err = h.chatMessage(ctx, s, f.Data)
	case EventChatTyping:
		err = h.chatTyping(ctx, s, f.Data)
	case EventReaction:
		err = h.reaction(ctx, s, f.Data)
	case EventDonation:
		err = h.donation(ctx, s, f.Data)
	case EventBanUser:
		err = h.banUser(ctx, s, f.Data)
	case EventUnbanUser:
		err = h.unbanUser(ctx, s, f.Data)
	case EventTimeoutUser:
		err = h.timeoutUser(ctx, s, f.Data)
	case EventDeleteChatMessage:
		err = h.deleteChatMessage(ctx, s, f.Data)
	case EventAddModerator, EventRemoveModerator, EventAddCohost, EventRemoveCohost:
		err = h.setDelegate(ctx, s, f.Type, f.Data)
	default:
		err = badRequest("unknown event: " + f.Type)
	}
	if err != nil {
		h.replyError(s, f.Type, err)
	}
}

func (h *Hub) replyError(s *Session, event string, err error) {
	se, known := asStreamError(err)
	if !known {
		h.logger.Error("handler failed", zap.String("event", event), zap.String("session_id", s.ID), zap.Error(err))
	}
	h.metrics.IncError(string(se.Code))
	h.deliver(s, encodeFrame(EventStreamError, errorPayload{
		Error:   se.Message,
		Message: se.Message,
		Code:    se.Code,
		Event:   event,
	}))
}

// deliver enqueues b for s. A full buffer disconnects s instead of blocking the caller.
func (h *Hub) deliver(s *Session, b []byte) {
	if s.enqueue(b) {
		return
	}
	h.metrics.IncBackpressure()
	h.logger.Warn("send buffer full, disconnecting", zap.String("session_id", s.ID), zap.String("user_id", s.UserID()))
	s.close(CloseBackpressure, "send buffer full")
	go h.Disconnect(s, CloseBackpressure, "send buffer full")
}

func (h *Hub) send(s *Session, event string, payload interface{}) {
	h.deliver(s, encodeFrame(event, payload))
}

// broadcastLocked fans one event out to the host session and every viewer except the
// excluded session. Caller holds r.mu.
func (h *Hub) broadcastLocked(r *Room, event string, payload interface{}, except *Session) {
	b := encodeFrame(event, payload)
	if r.host != nil && r.host != except {
		h.deliver(r.host, b)
	}
	for _, s := range r.sessions {
		if s != except {
			h.deliver(s, b)
		}
	}
}

// publish forwards a domain event for streamID through the ordered persistence workers.
func (h *Hub) publish(streamID, event string, payload interface{}) {
	if h.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.persist.submit(streamID, "publish:"+event, func(ctx context.Context) error {
		return h.events.PublishStreamEvent(ctx, streamID, event, data)
	})
}

// announce sends a platform-wide discovery event to every connected session and to the discovery channel.
func (h *Hub) announce(event string, payload interface{}) {
	b := encodeFrame(event, payload)
	for _, s := range h.sessions.all() {
		h.deliver(s, b)
	}
	if h.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.persist.submit("discovery", "discovery:"+event, func(ctx context.Context) error {
		return h.events.PublishDiscovery(ctx, event, data)
	})
}

func (h *Hub) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.opts.StoreTimeout)
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int { return h.sessions.count() }

// RoomCount returns the number of rooms held in memory.
func (h *Hub) RoomCount() int { return h.rooms.count() }

// LiveSnapshot returns the in-memory view of a live stream, with current and peak viewers.
func (h *Hub) LiveSnapshot(streamID string) (*models.Stream, bool) {
	r := h.rooms.get(streamID)
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	return r.snapshot(), true
}

// Close disconnects every session, flushes pending reaction windows and waits for queued writes.
func (h *Hub) Close() {
	for _, s := range h.sessions.all() {
		h.Disconnect(s, CloseGoingAway, "server shutting down")
	}
	for _, r := range h.rooms.all() {
		r.mu.Lock()
		h.stopTimersLocked(r)
		h.flushReactionsLocked(r)
		r.mu.Unlock()
	}
	h.persist.close()
}
