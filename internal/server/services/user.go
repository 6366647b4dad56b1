// Package services contains the server-side business logic. This file
// implements UserService: registration, login, logout, refresh-token
// rotation, password changes, and profile/media updates.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/dbx"
	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/blob"
	"github.com/playtube/playtube/internal/server/models"
	"github.com/playtube/playtube/internal/server/password"
	"github.com/playtube/playtube/internal/server/repositories/repomanager"
	"github.com/playtube/playtube/internal/server/token"
)

// BlobStore uploads media and returns its permanent public URL.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// Upload is one file received from a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// RegisterInput carries everything needed to create an account. Avatar is
// required; Cover is optional.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Avatar   *Upload
	Cover    *Upload
}

// UserService orchestrates the credential store, password hasher, token
// service, and blob store for the account lifecycle operations.
type UserService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	tokens *token.Service
	blobs  BlobStore
	logger logging.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db *sql.DB, repos repomanager.RepositoryManager, tokens *token.Service, blobs BlobStore, logger logging.Logger) *UserService {
	return &UserService{db: db, repos: repos, tokens: tokens, blobs: blobs, logger: logger}
}

// Register validates the input, uploads media, and creates the identity
// record with a hashed password. The record is created only after all
// uploads succeed.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.PublicUser, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || strings.TrimSpace(in.Password) == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", common.ErrValidation)
	}
	if in.Avatar == nil {
		return nil, fmt.Errorf("%w: avatar image is required", common.ErrValidation)
	}

	repo := s.repos.Users(s.db)
	exists, err := repo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	if exists {
		// Deliberately silent about which field collided.
		return nil, fmt.Errorf("%w: username or email already registered", common.ErrConflict)
	}

	avatarURL, err := s.upload(ctx, "avatars", in.Avatar)
	if err != nil {
		return nil, err
	}
	var coverURL *string
	if in.Cover != nil {
		u, err := s.upload(ctx, "covers", in.Cover)
		if err != nil {
			return nil, err
		}
		coverURL = &u
	}

	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	var created *models.User
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := s.repos.Users(tx)
		u, err := txRepo.Create(ctx, &models.User{
			Username:      username,
			Email:         email,
			PasswordHash:  hash,
			AvatarURL:     avatarURL,
			CoverImageURL: coverURL,
		})
		if err != nil {
			return err
		}
		// Re-read the sanitized projection to confirm the write landed.
		created, err = txRepo.GetByID(ctx, u.ID)
		return err
	}); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("%w: username or email already registered", common.ErrConflict)
		}
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: created record could not be read back", common.ErrInternal)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID, "username", created.Username)
	return created.Public(), nil
}

// Login verifies credentials and mints a token pair, persisting the new
// refresh token on the identity record. Unknown identifier and wrong
// password are both reported as common.ErrNotFound so responses cannot be
// used to probe which accounts exist.
func (s *UserService) Login(ctx context.Context, username, email, pass string) (*models.PublicUser, *token.Pair, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" && email == "" {
		return nil, nil, fmt.Errorf("%w: username or email is required", common.ErrValidation)
	}
	if pass == "" {
		return nil, nil, fmt.Errorf("%w: password is required", common.ErrValidation)
	}

	repo := s.repos.Users(s.db)
	user, err := repo.GetByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: user does not exist", common.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}

	if !password.Verify(pass, user.PasswordHash) {
		return nil, nil, fmt.Errorf("%w: invalid credentials", common.ErrNotFound)
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if err := repo.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return user.Public(), pair, nil
}

// Logout clears the stored refresh token, invalidating the current session.
func (s *UserService) Logout(ctx context.Context, id uuid.UUID) error {
	if err := s.repos.Users(s.db).ClearRefreshToken(ctx, id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	s.logger.Info(ctx, "user logged out", "user_id", id)
	return nil
}

// Refresh runs the rotation protocol: verify the presented refresh token,
// require it to exactly match the stored one, then atomically swap in a
// brand-new pair. Every failure collapses to common.ErrUnauthorized so the
// response does not reveal which check tripped.
func (s *UserService) Refresh(ctx context.Context, presented string) (*token.Pair, error) {
	if presented == "" {
		return nil, common.ErrUnauthorized
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		return nil, common.ErrUnauthorized
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, common.ErrUnauthorized
	}

	var pair *token.Pair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Users(tx)

		user, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if user.RefreshToken == nil ||
			subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(presented)) != 1 {
			// A well-signed token that no longer matches the stored one is
			// a reuse signal, not a routine expiry.
			s.logger.Warn(ctx, "refresh token mismatch", "user_id", id)
			return common.ErrUnauthorized
		}

		pair, err = s.tokens.IssuePair(user)
		if err != nil {
			return err
		}

		swapped, err := repo.RotateRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
		if err != nil {
			return err
		}
		if !swapped {
			// Lost the race against a concurrent rotation.
			s.logger.Warn(ctx, "refresh token already rotated", "user_id", id)
			return common.ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, common.ErrUnauthorized) {
			s.logger.Error(ctx, "refresh failed", "error", err)
		}
		return nil, common.ErrUnauthorized
	}
	return pair, nil
}

// ChangePassword verifies the old password against a fresh read of the
// record and replaces the stored hash.
func (s *UserService) ChangePassword(ctx context.Context, id uuid.UUID, oldPass, newPass string) error {
	if oldPass == "" || newPass == "" {
		return fmt.Errorf("%w: old and new password are required", common.ErrValidation)
	}

	repo := s.repos.Users(s.db)
	user, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	if !password.Verify(oldPass, user.PasswordHash) {
		return fmt.Errorf("%w: incorrect old password", common.ErrValidation)
	}

	hash, err := password.Hash(newPass)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if err := repo.UpdatePasswordHash(ctx, id, hash); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	s.logger.Info(ctx, "password changed", "user_id", id)
	return nil
}

// GetPublicByID returns the sanitized identity. The verification gate uses
// this to resolve the request identity; store failures other than
// not-found surface as common.ErrDependency.
func (s *UserService) GetPublicByID(ctx context.Context, id uuid.UUID) (*models.PublicUser, error) {
	user, err := s.repos.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	return user.Public(), nil
}

// UpdateProfile replaces username and/or email. Blank fields keep their
// current value; changed values are normalized and must stay unique.
func (s *UserService) UpdateProfile(ctx context.Context, id uuid.UUID, username, email string) (*models.PublicUser, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" && email == "" {
		return nil, fmt.Errorf("%w: nothing to update", common.ErrValidation)
	}

	repo := s.repos.Users(s.db)
	current, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	if username == "" {
		username = current.Username
	}
	if email == "" {
		email = current.Email
	}

	updated, err := repo.UpdateProfile(ctx, id, username, email)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("%w: username or email already registered", common.ErrConflict)
		}
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	return updated.Public(), nil
}

// UpdateAvatar uploads a new avatar and persists its URL.
func (s *UserService) UpdateAvatar(ctx context.Context, id uuid.UUID, file *Upload) (*models.PublicUser, error) {
	return s.updateImage(ctx, id, file, "avatars", s.repos.Users(s.db).UpdateAvatarURL)
}

// UpdateCoverImage uploads a new cover image and persists its URL.
func (s *UserService) UpdateCoverImage(ctx context.Context, id uuid.UUID, file *Upload) (*models.PublicUser, error) {
	return s.updateImage(ctx, id, file, "covers", s.repos.Users(s.db).UpdateCoverImageURL)
}

func (s *UserService) updateImage(ctx context.Context, id uuid.UUID, file *Upload, prefix string,
	persist func(context.Context, uuid.UUID, string) (*models.User, error)) (*models.PublicUser, error) {

	if file == nil {
		return nil, fmt.Errorf("%w: image file is required", common.ErrValidation)
	}
	url, err := s.upload(ctx, prefix, file)
	if err != nil {
		return nil, err
	}
	updated, err := persist(ctx, id, url)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrDependency, err)
	}
	return updated.Public(), nil
}

func (s *UserService) upload(ctx context.Context, prefix string, file *Upload) (string, error) {
	url, err := s.blobs.Upload(ctx, blob.StorageKey(prefix, file.Filename), file.ContentType, file.Body)
	if err != nil {
		s.logger.Error(ctx, "blob upload failed", "error", err)
		return "", fmt.Errorf("%w: media upload failed", common.ErrDependency)
	}
	return url, nil
}
