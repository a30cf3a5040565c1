package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/backend/internal/models"
)

type fakeUsers struct {
	users map[uuid.UUID]*models.User
	err   error
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	id := uuid.New()

	token, err := svc.Generate(id, "user")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "user", claims.Role)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	other := NewJWTService("other-secret", 1)
	id := uuid.New()

	foreign, err := other.Generate(id, "user")
	require.NoError(t, err)
	expired, err := svc.generate(id, "user", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenVerifier(t *testing.T) {
	svc := NewJWTService("secret", 1)
	known := &models.User{ID: uuid.New(), Username: "alice", AvatarURL: "https://cdn/a.png", Verified: true, Role: models.RoleUser}
	users := &fakeUsers{users: map[uuid.UUID]*models.User{known.ID: known}}
	v := NewTokenVerifier(svc, users)

	good, err := svc.Generate(known.ID, "user")
	require.NoError(t, err)
	ghost, err := svc.Generate(uuid.New(), "user")
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, known.ID.String(), id.User.UserID)
	assert.Equal(t, "alice", id.User.Username)
	assert.True(t, id.User.Verified)

	_, err = v.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = v.Verify(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = v.Verify(context.Background(), ghost)
	assert.ErrorIs(t, err, ErrUserNotFound)

	users.err = errors.New("db down")
	_, err = v.Verify(context.Background(), good)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
	assert.NotErrorIs(t, err, ErrBadToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("abc"))
	assert.Equal(t, "", BearerToken(""))
}
