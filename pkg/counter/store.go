// Package counter provides fixed-window counters shared by the rate limiter.
// Counters live in Redis when configured, with an in-process fallback that
// keeps admission decisions flowing when Redis is unreachable.
package counter

import (
	"context"
	"time"
)

// Store counts events in fixed windows. Implementations must make
// IncrementAndGet atomic: concurrent increments against the same
// (scope, window) key never lose updates.
type Store interface {
	// IncrementAndGet adds one to the counter for the window containing now
	// and returns the new count.
	IncrementAndGet(ctx context.Context, scope Scope, window Window, now time.Time) (int64, error)

	// Peek returns the current count without incrementing. A window that has
	// never been incremented reads as zero.
	Peek(ctx context.Context, scope Scope, window Window, now time.Time) (int64, error)

	// Close releases store resources.
	Close() error
}
