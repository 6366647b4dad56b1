// Package models defines the server-side data structures persisted by the
// repositories and exposed (in sanitized form) by the HTTP layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the stored identity record. Username and email are kept
// lowercase; RefreshToken mirrors the single most recently issued refresh
// token and is nil when the account is logged out.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	PasswordHash  string
	RefreshToken  *string
	AvatarURL     string
	CoverImageURL *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicUser is the sanitized projection of a User: no password hash, no
// refresh token. This is the only shape that crosses the API boundary.
type PublicUser struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	AvatarURL     string    `json:"avatarUrl"`
	CoverImageURL string    `json:"coverImageUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public returns the sanitized projection of u.
func (u *User) Public() *PublicUser {
	p := &PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.CoverImageURL != nil {
		p.CoverImageURL = *u.CoverImageURL
	}
	return p
}
