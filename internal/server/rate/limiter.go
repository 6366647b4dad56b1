// Package rate throttles login and refresh attempts per client key.
// Two implementations are provided: an in-process fixed-window limiter
// for single-instance deployments and a redis-backed one for fleets.
package rate

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
// When denied, the second return value is the suggested retry delay.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
