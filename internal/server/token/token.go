// Package token issues and verifies the signed, self-contained access and
// refresh tokens that make up a session. Both kinds are HS256 JWTs; they
// differ only in payload breadth, lifetime, and signing secret. Access
// tokens are never persisted; refresh tokens are mirrored onto the user
// record so they can be revoked.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/server/models"
)

// AccessClaims is the access-token payload: enough to authorize a request
// without touching the database for the common fields.
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh-token payload: subject id only.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Pair bundles a freshly issued access and refresh token.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Service signs and verifies session tokens.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration

	now func() time.Time
}

// NewService validates the signing configuration and returns a Service.
func NewService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Service, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token: signing secrets must be configured")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token: token lifetimes must be positive")
	}
	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs a short-lived access token for the user.
func (s *Service) IssueAccessToken(user *models.User) (string, error) {
	now := s.now()
	claims := AccessClaims{
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a longer-lived refresh token for the user.
func (s *Service) IssueRefreshToken(user *models.User) (string, error) {
	now := s.now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti keeps consecutive tokens for the same user distinct
			// even when issued within the same second, so rotation always
			// produces a new value to persist.
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// IssuePair signs a fresh access+refresh token pair for the user.
func (s *Service) IssuePair(user *models.User) (*Pair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks signature and expiry of an access token. Expiry is
// reported as common.ErrTokenExpired; any other failure (bad signature,
// malformed token, wrong algorithm) as common.ErrInvalidToken.
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token.
func (s *Service) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, common.ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return common.ErrInvalidToken
	}
	if !parsed.Valid {
		return common.ErrInvalidToken
	}
	return nil
}
