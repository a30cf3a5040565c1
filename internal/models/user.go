package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the platform.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the identity record resolved from a bearer token.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar"`
	Verified  bool      `json:"verified"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSnapshot is the copy of a user's public profile a session carries.
// Sessions never hold live pointers to user records.
type UserSnapshot struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Verified bool   `json:"verified"`
}

// Snapshot converts User to UserSnapshot.
func (u *User) Snapshot() UserSnapshot {
	return UserSnapshot{
		UserID:   u.ID.String(),
		Username: u.Username,
		Avatar:   u.AvatarURL,
		Verified: u.Verified,
	}
}
