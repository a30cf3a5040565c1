package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/auth"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 * 1024
	closeFrameWait = time.Second
)

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// ServeWs upgrades the request, authenticates it and runs the session's read and write loops.
// The token is taken from the Authorization header, the auth.token or token query field, or a
// first {"type":"auth","data":{"token":...}} frame. An optional stream_id query joins that stream
// right away; such sessions are closed with StreamEnded when the stream ends.
func ServeWs(hub *Hub, verifier Verifier, identityTimeout time.Duration, checkOrigin func(r *http.Request) bool, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("auth.token")
		}
		if token == "" {
			token = c.Query("token")
		}
		streamID := c.Query("stream_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(maxFrameSize)

		if token == "" {
			token = readAuthFrame(conn, identityTimeout)
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), identityTimeout)
		id, err := verifier.Verify(ctx, token)
		cancel()
		if err != nil {
			code, reason := rejectCode(err)
			logger.Info("handshake rejected", zap.Int("code", code), zap.Error(err))
			hub.metrics.IncClose(code)
			closeConn(conn, code, reason)
			return
		}

		s := hub.Connect(id)
		go writePump(conn, s, logger)
		if streamID != "" {
			s.bindStream(streamID)
			hub.Handle(s, Frame{Type: EventJoinStream, Data: mustJSON(streamRef{StreamID: streamID})})
		}
		readPump(hub, conn, s, logger)
	}
}

// readAuthFrame waits for the first frame when the handshake carried no token.
func readAuthFrame(conn *websocket.Conn, timeout time.Duration) string {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	var f Frame
	if err := conn.ReadJSON(&f); err != nil || f.Type != EventAuth {
		return ""
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return ""
	}
	return data.Token
}

func rejectCode(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return CloseNoToken, "no token"
	case errors.Is(err, auth.ErrBadToken):
		return CloseBadToken, "bad token"
	case errors.Is(err, auth.ErrUserNotFound):
		return CloseUserNotFound, "user not found"
	}
	return CloseIdentityTryLater, "identity unavailable"
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeFrameWait))
	_ = conn.Close()
}

func readPump(hub *Hub, conn *websocket.Conn, s *Session, logger *zap.Logger) {
	defer func() {
		hub.Disconnect(s, CloseNormal, "client closed")
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
			hub.replyError(s, "", badRequest("frames must be {\"type\":...,\"data\":{...}}"))
			continue
		}
		hub.Handle(s, f)
	}
}

// writePump is the only writer of conn. When the session closes it flushes what is already
// queued, except after a backpressure disconnect, then sends the close frame.
func writePump(conn *websocket.Conn, s *Session, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(b []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Debug("write failed", zap.String("session_id", s.ID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case b := <-s.Outbound():
			if !write(b) {
				return
			}
		case <-s.Done():
			code, reason := s.CloseCode()
			if code != CloseBackpressure {
			flush:
				for {
					select {
					case b := <-s.Outbound():
						if !write(b) {
							return
						}
					default:
						break flush
					}
				}
			}
			closeConn(conn, code, reason)
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
