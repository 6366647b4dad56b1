// Package httpapi is the JSON-over-HTTP surface of the account backend:
// gin router, request handlers, the session gate, and the shared response
// envelope.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/models"
	"github.com/playtube/playtube/internal/server/services"
	"github.com/playtube/playtube/internal/server/token"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"

	avatarFormField = "avatar"
	coverFormField  = "coverImage"
)

// Service is the account lifecycle contract the handlers depend on.
type Service interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.PublicUser, error)
	Login(ctx context.Context, username, email, password string) (*models.PublicUser, *token.Pair, error)
	Logout(ctx context.Context, id uuid.UUID) error
	Refresh(ctx context.Context, presented string) (*token.Pair, error)
	ChangePassword(ctx context.Context, id uuid.UUID, oldPass, newPass string) error
	GetPublicByID(ctx context.Context, id uuid.UUID) (*models.PublicUser, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, username, email string) (*models.PublicUser, error)
	UpdateAvatar(ctx context.Context, id uuid.UUID, file *services.Upload) (*models.PublicUser, error)
	UpdateCoverImage(ctx context.Context, id uuid.UUID, file *services.Upload) (*models.PublicUser, error)
}

// UserHandler serves the account endpoints.
type UserHandler struct {
	svc    Service
	tokens *token.Service
	log    logging.Logger
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(svc Service, tokens *token.Service, log logging.Logger) *UserHandler {
	return &UserHandler{svc: svc, tokens: tokens, log: log}
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateProfileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type sessionResponse struct {
	User         *models.PublicUser `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
}

// Register creates an account from a multipart form: username, email,
// password fields plus a required avatar file and an optional cover image.
func (h *UserHandler) Register(c *gin.Context) {
	avatar, closeAvatar, err := uploadFromForm(c, avatarFormField)
	if err != nil {
		respondError(c, h.log, fmt.Errorf("%w: avatar image is required", common.ErrValidation))
		return
	}
	defer closeAvatar()

	var cover *services.Upload
	if up, closeCover, err := uploadFromForm(c, coverFormField); err == nil {
		cover = up
		defer closeCover()
	}

	pub, err := h.svc.Register(c.Request.Context(), services.RegisterInput{
		Username: c.PostForm("username"),
		Email:    c.PostForm("email"),
		Password: c.PostForm("password"),
		Avatar:   avatar,
		Cover:    cover,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, pub, "user registered successfully")
}

// Login verifies credentials and opens a session: the token pair is
// returned in the body and mirrored into http-only cookies.
func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, fmt.Errorf("%w: invalid request body", common.ErrValidation))
		return
	}

	user, pair, err := h.svc.Login(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.setAuthCookies(c, pair)
	respond(c, http.StatusOK, sessionResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "logged in successfully")
}

// Logout closes the current session and clears both cookies.
func (h *UserHandler) Logout(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, h.log, common.ErrUnauthorized)
		return
	}
	if err := h.svc.Logout(c.Request.Context(), user.ID); err != nil {
		respondError(c, h.log, err)
		return
	}
	clearAuthCookies(c)
	respond(c, http.StatusOK, nil, "logged out successfully")
}

// RefreshToken rotates the session. The refresh token is read from the
// cookie first, then from the JSON body.
func (h *UserHandler) RefreshToken(c *gin.Context) {
	presented, _ := c.Cookie(refreshCookie)
	if presented == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			presented = req.RefreshToken
		}
	}
	if presented == "" {
		respondError(c, h.log, fmt.Errorf("%w: missing refresh token", common.ErrUnauthorized))
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), presented)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.setAuthCookies(c, pair)
	respond(c, http.StatusOK, pair, "token refreshed successfully")
}

// ChangePassword replaces the caller's password after verifying the old one.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, h.log, common.ErrUnauthorized)
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, fmt.Errorf("%w: invalid request body", common.ErrValidation))
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, nil, "password changed successfully")
}

// GetUser returns the caller's sanitized identity.
func (h *UserHandler) GetUser(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, h.log, common.ErrUnauthorized)
		return
	}
	respond(c, http.StatusOK, user, "user fetched successfully")
}

// UpdateProfile changes username and/or email.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, h.log, common.ErrUnauthorized)
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, fmt.Errorf("%w: invalid request body", common.ErrValidation))
		return
	}
	updated, err := h.svc.UpdateProfile(c.Request.Context(), user.ID, req.Username, req.Email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, updated, "profile updated successfully")
}

// UpdateAvatar replaces the caller's avatar image.
func (h *UserHandler) UpdateAvatar(c *gin.Context) {
	h.updateImage(c, avatarFormField, h.svc.UpdateAvatar, "avatar updated successfully")
}

// UpdateCoverImg replaces the caller's cover image.
func (h *UserHandler) UpdateCoverImg(c *gin.Context) {
	h.updateImage(c, coverFormField, h.svc.UpdateCoverImage, "cover image updated successfully")
}

func (h *UserHandler) updateImage(c *gin.Context, field string,
	apply func(context.Context, uuid.UUID, *services.Upload) (*models.PublicUser, error), message string) {

	user, ok := currentUser(c)
	if !ok {
		respondError(c, h.log, common.ErrUnauthorized)
		return
	}
	up, closeUpload, err := uploadFromForm(c, field)
	if err != nil {
		respondError(c, h.log, fmt.Errorf("%w: %s file is required", common.ErrValidation, field))
		return
	}
	defer closeUpload()

	updated, err := apply(c.Request.Context(), user.ID, up)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, updated, message)
}

// uploadFromForm opens the named multipart file. The caller must invoke the
// returned close func after the upload has been consumed.
func uploadFromForm(c *gin.Context, field string) (*services.Upload, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return &services.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	}, func() { _ = f.Close() }, nil
}

func (h *UserHandler) setAuthCookies(c *gin.Context, pair *token.Pair) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessCookie, pair.AccessToken, int(h.tokens.AccessTTL().Seconds()), "/", "", true, true)
	c.SetCookie(refreshCookie, pair.RefreshToken, int(h.tokens.RefreshTTL().Seconds()), "/", "", true, true)
}

func clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessCookie, "", -1, "/", "", true, true)
	c.SetCookie(refreshCookie, "", -1, "/", "", true, true)
}
