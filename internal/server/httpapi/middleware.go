package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/common"
	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/metrics"
	"github.com/playtube/playtube/internal/server/rate"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates an incoming X-Request-ID or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Header(requestIDHeader, reqID)
		c.Next()
	}
}

// RequestLogger logs one line per request and feeds the prometheus vecs.
func RequestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		reqID := c.GetString(requestIDHeader)

		log.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"request_id", reqID,
		)

		metrics.RequestCount.WithLabelValues(c.Request.Method, path, http.StatusText(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, path, http.StatusText(status)).Observe(latency.Seconds())
	}
}

// Recovery turns panics into 500 responses instead of dropped connections.
func Recovery(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic",
					"error", fmt.Sprintf("%v", r),
					"path", c.Request.URL.Path,
					"request_id", c.GetString(requestIDHeader),
				)
				respondError(c, log, common.ErrInternal)
			}
		}()
		c.Next()
	}
}

// RateLimit throttles by client IP. A limiter outage fails open so a redis
// blip cannot lock every account out.
func RateLimit(limiter rate.Limiter, log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), c.ClientIP(), time.Now())
		if err != nil {
			log.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !allowed {
			seconds := int((retryAfter + time.Second - 1) / time.Second)
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{
				StatusCode: http.StatusTooManyRequests,
				Data:       nil,
				Message:    "too many requests",
				Success:    false,
				Errors:     []string{"too many requests"},
			})
			return
		}
		c.Next()
	}
}
