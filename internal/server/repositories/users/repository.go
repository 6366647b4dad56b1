// Package users declares the repository contract for identity records and
// provides its PostgreSQL implementation.
package users

import (
	"context"

	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/server/models"
)

// Repository persists identity records. Implementations return
// common.ErrNotFound for missing records and common.ErrConflict for
// unique-constraint violations.
type Repository interface {
	// Create inserts a new identity record and returns it with
	// database-assigned timestamps.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByID returns the full record, including credential fields.
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByUsernameOrEmail returns the record matching either value.
	// Empty arguments never match.
	GetByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error)

	// ExistsByUsernameOrEmail reports whether any record holds either value.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)

	// SetRefreshToken stores the current refresh token for the identity.
	SetRefreshToken(ctx context.Context, id uuid.UUID, token string) error

	// ClearRefreshToken unsets the stored refresh token (logout).
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error

	// RotateRefreshToken replaces the stored refresh token with next only
	// if it still equals current. It reports whether the swap happened;
	// false means the presented token was already superseded.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) (bool, error)

	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error

	// UpdateProfile replaces username and email, returning the updated record.
	UpdateProfile(ctx context.Context, id uuid.UUID, username, email string) (*models.User, error)

	// UpdateAvatarURL replaces the avatar URL, returning the updated record.
	UpdateAvatarURL(ctx context.Context, id uuid.UUID, url string) (*models.User, error)

	// UpdateCoverImageURL replaces the cover image URL, returning the
	// updated record.
	UpdateCoverImageURL(ctx context.Context, id uuid.UUID, url string) (*models.User, error)
}
