package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Live.GracePeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.Live.ViewerCountInterval)
	assert.Equal(t, 500, cfg.Live.ChatMaxLength)
	assert.Equal(t, 2*time.Second, cfg.Live.TypingInterval)
	assert.Equal(t, 10*time.Second, cfg.Live.ReactionWindow)
	assert.Equal(t, 5*time.Second, cfg.Live.IdentityTimeout)
	assert.Equal(t, 10*time.Second, cfg.Live.StoreTimeout)
	assert.Equal(t, 20*time.Second, cfg.Live.SinkTimeout)
	assert.Equal(t, []string{"USD", "EUR", "GBP", "INR", "JPY"}, cfg.Live.AllowedCurrencies)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEUrls)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LIVE_HOST_GRACE_PERIOD", "90s")
	t.Setenv("LIVE_TYPING_INTERVAL", "3")
	t.Setenv("LIVE_ALLOWED_CURRENCIES", "usd, eur")
	t.Setenv("WEBRTC_ICE_URLS", "stun:a.example:3478, turn:b.example:3478")
	t.Setenv("PUBLIC_WS_URL", "wss://live.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "wss://live.example.com", cfg.Server.PublicURL)
	assert.Equal(t, 90*time.Second, cfg.Live.GracePeriod)
	assert.Equal(t, 3*time.Second, cfg.Live.TypingInterval)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.Live.AllowedCurrencies)
	assert.Equal(t, []string{"stun:a.example:3478", "turn:b.example:3478"}, cfg.WebRTC.ICEUrls)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative grace", "LIVE_HOST_GRACE_PERIOD", "-5s"},
		{"zero chat length", "LIVE_CHAT_MAX_LENGTH", "0"},
		{"zero send buffer", "LIVE_SEND_BUFFER", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "live", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/live?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
