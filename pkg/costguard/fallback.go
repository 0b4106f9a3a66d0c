package costguard

import (
	"context"
	"log/slog"
	"time"
)

// FallbackLedger tries a primary ledger and degrades to an in-process
// ledger for the single call when the primary fails or exceeds its
// deadline. The degradation is logged, never surfaced to clients, and the
// next call tries the primary again. A degraded call only sees spend
// recorded in this process, so an outage loosens budgets rather than
// denying paid traffic.
type FallbackLedger struct {
	primary   Ledger
	fallback  Ledger
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewFallbackLedger wraps primary with a per-call timeout and an
// in-process fallback.
func NewFallbackLedger(primary Ledger, opTimeout time.Duration, logger *slog.Logger) *FallbackLedger {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &FallbackLedger{
		primary:   primary,
		fallback:  NewMemoryLedger(),
		opTimeout: opTimeout,
		logger:    logger,
	}
}

func (l *FallbackLedger) Reserve(ctx context.Context, profile, day string, amount, budget float64) (bool, Spend, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	ok, spend, err := l.primary.Reserve(opCtx, profile, day, amount, budget)
	if err == nil {
		return ok, spend, nil
	}
	// Parent cancellation is the caller's signal, not a ledger failure.
	if ctx.Err() != nil {
		return false, Spend{}, ctx.Err()
	}

	l.logger.Warn("spend ledger degraded to in-process fallback",
		"operation", "reserve", "profile", profile, "error", err)
	return l.fallback.Reserve(ctx, profile, day, amount, budget)
}

func (l *FallbackLedger) Settle(ctx context.Context, profile, day string, estimate, actual float64) error {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	err := l.primary.Settle(opCtx, profile, day, estimate, actual)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.logger.Warn("spend ledger degraded to in-process fallback",
		"operation", "settle", "profile", profile, "error", err)
	return l.fallback.Settle(ctx, profile, day, estimate, actual)
}

func (l *FallbackLedger) Release(ctx context.Context, profile, day string, estimate float64) error {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	err := l.primary.Release(opCtx, profile, day, estimate)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.logger.Warn("spend ledger degraded to in-process fallback",
		"operation", "release", "profile", profile, "error", err)
	return l.fallback.Release(ctx, profile, day, estimate)
}

func (l *FallbackLedger) Current(ctx context.Context, profile, day string) (Spend, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	spend, err := l.primary.Current(opCtx, profile, day)
	if err == nil {
		return spend, nil
	}
	if ctx.Err() != nil {
		return Spend{}, ctx.Err()
	}

	l.logger.Warn("spend ledger degraded to in-process fallback",
		"operation", "current", "profile", profile, "error", err)
	return l.fallback.Current(ctx, profile, day)
}

func (l *FallbackLedger) Close() error {
	err := l.primary.Close()
	if cerr := l.fallback.Close(); err == nil {
		err = cerr
	}
	return err
}
