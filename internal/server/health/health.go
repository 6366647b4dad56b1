// Package health exposes liveness and readiness state for the server.
// Liveness is unconditional; readiness flips on once migrations have run
// and the database is reachable.
package health

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Manager tracks whether the server is ready to take traffic.
type Manager struct {
	ready atomic.Bool
}

// NewManager returns a Manager with the given initial readiness.
func NewManager(initialReady bool) *Manager {
	m := &Manager{}
	m.ready.Store(initialReady)
	return m
}

// SetReady updates the readiness state.
func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

// IsReady reports the current readiness state.
func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// LivenessHandler answers 200 whenever the process is serving.
func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessHandler answers 200 once the manager reports ready, 503 before.
func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.IsReady() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
	}
}
