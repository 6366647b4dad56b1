package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/health"
	"github.com/playtube/playtube/internal/server/metrics"
	"github.com/playtube/playtube/internal/server/rate"
	"github.com/playtube/playtube/internal/server/token"
)

// RouterDeps bundles everything the router needs.
type RouterDeps struct {
	Service  Service
	Tokens   *token.Service
	Limiter  rate.Limiter
	Logger   logging.Logger
	Health   *health.Manager
	Registry *prometheus.Registry
}

// NewRouter assembles the gin engine: ambient middleware, operational
// endpoints, and the account routes. Login and refresh are throttled by
// client IP; session-bound routes pass through the auth gate.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(deps.Logger), RequestLogger(deps.Logger))

	metrics.Register(deps.Registry)

	r.GET("/healthz", health.LivenessHandler)
	r.GET("/readyz", health.ReadinessHandler(deps.Health))
	r.GET("/metrics", gin.WrapH(metrics.Handler(deps.Registry)))

	h := NewUserHandler(deps.Service, deps.Tokens, deps.Logger)
	gate := RequireAuth(deps.Tokens, deps.Service, deps.Logger)
	throttle := RateLimit(deps.Limiter, deps.Logger)

	r.POST("/register", h.Register)
	r.POST("/login", throttle, h.Login)
	r.POST("/refreshToken", throttle, h.RefreshToken)
	r.POST("/logout", gate, h.Logout)
	r.PATCH("/changePassword", gate, h.ChangePassword)
	r.GET("/getUser", gate, h.GetUser)
	r.PATCH("/updateProfile", gate, h.UpdateProfile)
	r.PATCH("/updateAvatar", gate, h.UpdateAvatar)
	r.PATCH("/updateCoverImg", gate, h.UpdateCoverImg)

	return r
}
