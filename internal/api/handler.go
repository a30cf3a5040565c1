package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/chats"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/streams"
	"github.com/aura-live/backend/pkg/response"
)

// StreamReader is the part of the durable store the REST surface reads.
type StreamReader interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	ListLiveStreams(ctx context.Context) ([]*models.Stream, error)
	GetChatMessage(ctx context.Context, streamID, messageID string) (*models.ChatMessage, error)
	ListDonations(ctx context.Context, streamID string) ([]models.Donation, error)
}

// LiveState is the live view and operator control of the coordination core.
type LiveState interface {
	LiveSnapshot(streamID string) (*models.Stream, bool)
	ForceEnd(ctx context.Context, streamID, reason string) error
	SessionCount() int
	RoomCount() int
}

// TranscriptLinker signs download links for exported chat transcripts.
type TranscriptLinker interface {
	TranscriptURL(ctx context.Context, key string) (string, error)
}

// Handler serves the REST read surface over live state.
type Handler struct {
	store       StreamReader
	live        LiveState
	transcripts TranscriptLinker
	logger      *zap.Logger
}

// NewHandler creates the REST handler. transcripts may be nil when S3 is not configured.
func NewHandler(store StreamReader, live LiveState, transcripts TranscriptLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, live: live, transcripts: transcripts, logger: logger}
}

// Register mounts the JWT protected routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/streams/live", h.ListLive)
	g.GET("/streams/:id", h.GetStream)
	g.GET("/streams/:id/transcript", h.TranscriptURL)
	g.GET("/streams/:id/donations", h.ListDonations)
	g.GET("/streams/:id/messages/:messageId", h.GetChatMessage)
	g.POST("/admin/streams/:id/end", middleware.RequireRole(string(models.RoleAdmin)), h.ForceEnd)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	response.OK(c, gin.H{
		"status":   "ok",
		"sessions": h.live.SessionCount(),
		"rooms":    h.live.RoomCount(),
	})
}

// ListLive handles GET /streams/live. Private streams are listed only for their host.
func (h *Handler) ListLive(c *gin.Context) {
	list, err := h.store.ListLiveStreams(c.Request.Context())
	if err != nil {
		h.logger.Error("list live streams failed", zap.Error(err))
		response.ServiceUnavailable(c, "store unavailable")
		return
	}
	uid := middleware.UserID(c)
	out := make([]*models.Stream, 0, len(list))
	for _, st := range list {
		if !visible(st, uid) {
			continue
		}
		out = append(out, h.overlay(st))
	}
	response.OK(c, out)
}

// GetStream handles GET /streams/:id.
func (h *Handler) GetStream(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, h.overlay(st))
}

// GetChatMessage handles GET /streams/:id/messages/:messageId. Deleted messages are not found.
func (h *Handler) GetChatMessage(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	msg, err := h.store.GetChatMessage(c.Request.Context(), st.ID, c.Param("messageId"))
	if err != nil {
		if errors.Is(err, chats.ErrNotFound) {
			response.NotFound(c, "message not found")
			return
		}
		h.logger.Error("get chat message failed", zap.String("stream_id", st.ID), zap.Error(err))
		response.ServiceUnavailable(c, "store unavailable")
		return
	}
	if msg.Deleted {
		response.NotFound(c, "message not found")
		return
	}
	response.OK(c, msg)
}

// ListDonations handles GET /streams/:id/donations: the stream's donation ledger. Host or admin only.
func (h *Handler) ListDonations(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	if !hostOrAdmin(c, st) {
		response.Forbidden(c, "only the host can view donations")
		return
	}
	list, err := h.store.ListDonations(c.Request.Context(), st.ID)
	if err != nil {
		h.logger.Error("list donations failed", zap.String("stream_id", st.ID), zap.Error(err))
		response.ServiceUnavailable(c, "store unavailable")
		return
	}
	response.OK(c, gin.H{"stream_id": st.ID, "total_earnings": st.TotalEarnings, "donations": list})
}

// TranscriptURL handles GET /streams/:id/transcript. Host or admin only.
func (h *Handler) TranscriptURL(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	if !hostOrAdmin(c, st) {
		response.Forbidden(c, "only the host can download the transcript")
		return
	}
	if st.TranscriptKey == "" {
		response.NotFound(c, "transcript not ready")
		return
	}
	if h.transcripts == nil {
		response.ServiceUnavailable(c, "transcript storage not configured")
		return
	}
	url, err := h.transcripts.TranscriptURL(c.Request.Context(), st.TranscriptKey)
	if err != nil {
		h.logger.Error("presign transcript failed", zap.String("stream_id", st.ID), zap.Error(err))
		response.Internal(c, "failed to sign transcript url")
		return
	}
	response.OK(c, gin.H{"stream_id": st.ID, "url": url})
}

// ForceEnd handles POST /admin/streams/:id/end.
func (h *Handler) ForceEnd(c *gin.Context) {
	id := c.Param("id")
	err := h.live.ForceEnd(c.Request.Context(), id, "admin_ended")
	if err != nil {
		var se *realtime.StreamError
		if errors.As(err, &se) {
			switch se.Code {
			case realtime.CodeStreamNotFound:
				response.NotFound(c, se.Message)
			case realtime.CodeInvalidTransition:
				response.Conflict(c, se.Message)
			case realtime.CodeStoreUnavailable:
				response.ServiceUnavailable(c, se.Message)
			default:
				response.BadRequest(c, se.Message)
			}
			return
		}
		h.logger.Error("force end failed", zap.String("stream_id", id), zap.Error(err))
		response.Internal(c, "failed to end stream")
		return
	}
	h.logger.Info("stream force-ended", zap.String("stream_id", id), zap.String("by", middleware.UserID(c)))
	response.OK(c, gin.H{"stream_id": id, "status": models.StreamStatusEnded})
}

// load reads the stream named by :id and writes the error response when it cannot be shown.
func (h *Handler) load(c *gin.Context) (*models.Stream, bool) {
	st, err := h.store.GetStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, streams.ErrNotFound) {
			response.NotFound(c, "stream not found")
			return nil, false
		}
		h.logger.Error("get stream failed", zap.String("stream_id", c.Param("id")), zap.Error(err))
		response.ServiceUnavailable(c, "store unavailable")
		return nil, false
	}
	if !visible(st, middleware.UserID(c)) {
		response.NotFound(c, "stream not found")
		return nil, false
	}
	return st, true
}

// overlay replaces stored counters with the room's live values when the stream is held in memory.
func (h *Handler) overlay(st *models.Stream) *models.Stream {
	if snap, ok := h.live.LiveSnapshot(st.ID); ok {
		return snap
	}
	return st
}

func hostOrAdmin(c *gin.Context, st *models.Stream) bool {
	return st.HostUserID == middleware.UserID(c) || c.GetString(middleware.ContextUserRole) == string(models.RoleAdmin)
}

func visible(st *models.Stream, uid string) bool {
	return st.Type != models.StreamTypePrivate || st.HostUserID == uid
}
