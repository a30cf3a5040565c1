package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aura-live/backend/internal/models"
)

// Rejection reasons returned by a Verifier. Each maps to a distinct websocket close code.
var (
	ErrNoToken  = errors.New("no token")
	ErrBadToken = errors.New("bad token")
)

// Identity is what the core attaches to a session after a successful handshake.
type Identity struct {
	User models.UserSnapshot
	Role models.Role
}

// UserLookup resolves a user id to a user record.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenVerifier is the Identity Gate: bearer token -> Identity. It keeps no state between calls.
type TokenVerifier struct {
	jwt   *JWTService
	users UserLookup
}

// NewTokenVerifier creates an identity verifier backed by JWT validation and a user lookup.
func NewTokenVerifier(jwt *JWTService, users UserLookup) *TokenVerifier {
	return &TokenVerifier{jwt: jwt, users: users}
}

// Verify returns the identity for token, or an error wrapping ErrNoToken, ErrBadToken or ErrUserNotFound.
// Lookup failures other than a missing user (timeouts, store errors) are returned unwrapped.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}
	claims, err := v.jwt.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	u, err := v.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &Identity{User: u.Snapshot(), Role: u.Role}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
