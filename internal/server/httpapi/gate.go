package httpapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/models"
	"github.com/playtube/playtube/internal/server/token"
)

const userContextKey = "currentUser"

// RequireAuth verifies the access token and resolves the request identity.
// The cookie wins over the Authorization header. Every auth failure is a
// 401; only a store outage during identity resolution surfaces as 503.
func RequireAuth(tokens *token.Service, svc Service, log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := accessTokenFromRequest(c)
		if raw == "" {
			respondError(c, log, fmt.Errorf("%w: missing access token", common.ErrUnauthorized))
			return
		}

		claims, err := tokens.VerifyAccess(raw)
		if err != nil {
			respondError(c, log, err)
			return
		}
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			respondError(c, log, common.ErrInvalidToken)
			return
		}

		user, err := svc.GetPublicByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				respondError(c, log, fmt.Errorf("%w: account no longer exists", common.ErrUnauthorized))
				return
			}
			respondError(c, log, err)
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

func accessTokenFromRequest(c *gin.Context) string {
	if v, err := c.Cookie(accessCookie); err == nil && v != "" {
		return v
	}
	if after, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// currentUser returns the identity attached by RequireAuth.
func currentUser(c *gin.Context) (*models.PublicUser, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.PublicUser)
	return user, ok
}
