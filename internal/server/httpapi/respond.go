package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/logging"
)

// envelope is the uniform response shape. Errors carry a null data field,
// success=false, and an errors list.
type envelope struct {
	StatusCode int      `json:"statusCode"`
	Data       any      `json:"data"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors,omitempty"`
}

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

// respondError maps a service error to its wire status. Unexpected errors
// become a generic 500; their details stay in the server log.
func respondError(c *gin.Context, log logging.Logger, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error(c.Request.Context(), "request failed",
			"error", err,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
	}
	c.AbortWithStatusJSON(status, envelope{
		StatusCode: status,
		Data:       nil,
		Message:    message,
		Success:    false,
		Errors:     []string{message},
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, common.ErrDependency):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
