package counter

import (
	"context"
	"log/slog"
	"time"
)

// FallbackStore tries a primary store and degrades to an in-process store
// for the single call when the primary fails or exceeds its deadline. The
// degradation is logged, never surfaced to clients, and the next call tries
// the primary again.
type FallbackStore struct {
	primary   Store
	fallback  Store
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewFallbackStore wraps primary with a per-call timeout and an in-process
// fallback.
func NewFallbackStore(primary Store, opTimeout time.Duration, logger *slog.Logger) *FallbackStore {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &FallbackStore{
		primary:   primary,
		fallback:  NewMemoryStore(),
		opTimeout: opTimeout,
		logger:    logger,
	}
}

func (s *FallbackStore) IncrementAndGet(ctx context.Context, scope Scope, window Window, now time.Time) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.primary.IncrementAndGet(opCtx, scope, window, now)
	if err == nil {
		return count, nil
	}
	// Parent cancellation is the caller's signal, not a store failure.
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	s.logger.Warn("counter store degraded to in-process fallback",
		"operation", "increment", "window", string(window), "error", err)
	return s.fallback.IncrementAndGet(ctx, scope, window, now)
}

func (s *FallbackStore) Peek(ctx context.Context, scope Scope, window Window, now time.Time) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.primary.Peek(opCtx, scope, window, now)
	if err == nil {
		return count, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	s.logger.Warn("counter store degraded to in-process fallback",
		"operation", "peek", "window", string(window), "error", err)
	return s.fallback.Peek(ctx, scope, window, now)
}

func (s *FallbackStore) Close() error {
	err := s.primary.Close()
	if cerr := s.fallback.Close(); err == nil {
		err = cerr
	}
	return err
}
