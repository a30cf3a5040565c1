package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/models"
)

type stubVerifier map[string]*auth.Identity

func (v stubVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	switch token {
	case "":
		return nil, auth.ErrNoToken
	case "down":
		return nil, errors.New("users table unavailable")
	case "ghost":
		return nil, auth.ErrUserNotFound
	}
	id, ok := v[token]
	if !ok {
		return nil, auth.ErrBadToken
	}
	return id, nil
}

func newWsServer(t *testing.T, h *harness) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier := stubVerifier{
		"tok-host":  {User: models.UserSnapshot{UserID: "host", Username: "host"}, Role: models.RoleUser},
		"tok-alice": {User: models.UserSnapshot{UserID: "alice", Username: "alice"}, Role: models.RoleUser},
	}
	r := gin.New()
	r.GET("/ws", ServeWs(h.hub, verifier, time.Second, func(*http.Request) bool { return true }, zaptest.NewLogger(t)))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func closeCodeOf(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			return ce.Code
		}
	}
}

func TestServeWs_HandshakeRejections(t *testing.T) {
	h := newHarness(t, nil)
	url := newWsServer(t, h)

	cases := []struct {
		name  string
		query string
		code  int
	}{
		{"bad token", "?token=nope", CloseBadToken},
		{"unknown user", "?token=ghost", CloseUserNotFound},
		{"identity store down", "?auth.token=down", CloseIdentityTryLater},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, url+tc.query, nil)
			assert.Equal(t, tc.code, closeCodeOf(t, conn))
		})
	}

	t.Run("no token", func(t *testing.T) {
		conn := dial(t, url, nil)
		require.NoError(t, conn.WriteJSON(Frame{Type: EventPing}))
		assert.Equal(t, CloseNoToken, closeCodeOf(t, conn))
	})
	assert.Zero(t, h.hub.SessionCount())
}

func TestServeWs_Session(t *testing.T) {
	h := newHarness(t, nil)
	url := newWsServer(t, h)

	host := dial(t, url, http.Header{"Authorization": {"Bearer tok-host"}})
	readUntil(t, host, EventConnected)
	require.NoError(t, host.WriteJSON(Frame{Type: EventCreateStream, Data: mustJSON(map[string]string{"title": "ws"})}))
	created := decode[streamCreatedPayload](t, readUntil(t, host, EventStreamCreated).Data)
	require.NoError(t, host.WriteJSON(Frame{Type: EventStartStream, Data: mustJSON(streamRef{StreamID: created.StreamID})}))
	readUntil(t, host, EventStreamStarted)

	alice := dial(t, url+"?stream_id="+created.StreamID, nil)
	require.NoError(t, alice.WriteJSON(Frame{Type: EventAuth, Data: mustJSON(map[string]string{"token": "tok-alice"})}))
	readUntil(t, alice, EventStreamJoined)
	readUntil(t, host, EventViewerJoined)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	errFrame := readUntil(t, alice, EventStreamError)
	assert.Equal(t, CodeBadRequest, decode[errorPayload](t, errFrame.Data).Code)

	require.NoError(t, host.WriteJSON(Frame{Type: EventEndStream, Data: mustJSON(streamRef{StreamID: created.StreamID})}))
	readUntil(t, alice, EventStreamEnded)
	assert.Equal(t, CloseStreamEnded, closeCodeOf(t, alice))

	replacement := dial(t, url+"?token=tok-host", nil)
	readUntil(t, replacement, EventConnected)
	assert.Equal(t, CloseReplaced, closeCodeOf(t, host))
}
