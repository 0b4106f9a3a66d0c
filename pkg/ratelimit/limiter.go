// Package ratelimit admits or denies generation requests against fixed
// per-minute, per-hour, and per-day windows. Limits are checked for the
// global scope first, then per client, smallest window first, stopping at
// the first violation.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dailyfactoid/factoid/pkg/config"
	"github.com/dailyfactoid/factoid/pkg/counter"
	"github.com/dailyfactoid/factoid/pkg/identity"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool

	// The fields below describe the violated limit when Allowed is false.
	Scope      counter.Scope
	Window     counter.Window
	Limit      int64
	Count      int64
	RetryAfter time.Duration
}

// String renders the decision for logs.
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied: %s %s limit %d reached (count %d, retry in %s)",
		d.Scope, d.Window, d.Limit, d.Count, d.RetryAfter.Round(time.Second))
}

// check pairs a window with its configured limit.
type check struct {
	scope  counter.Scope
	window counter.Window
	limit  int64
}

// Limiter performs fixed-window admission checks.
type Limiter struct {
	cfg   *config.RateLimitConfig
	store counter.Store
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter backed by the given counter store.
func NewLimiter(cfg *config.RateLimitConfig, store counter.Store, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg, store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit checks every configured window for the request and, if all pass,
// records the admission in each of them. A denial leaves all counters
// untouched so a rejected request costs the client nothing.
func (l *Limiter) Admit(ctx context.Context, client identity.ClientKey, profile string) (Decision, error) {
	if !l.cfg.IsEnabled() {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	checks := l.checks(client, profile)

	for _, c := range checks {
		if c.limit <= 0 {
			// A configured non-positive limit is a hard block on the profile.
			return l.deny(c, c.limit, now), nil
		}
		count, err := l.store.Peek(ctx, c.scope, c.window, now)
		if err != nil {
			return Decision{}, fmt.Errorf("peek %s/%s: %w", c.scope, c.window, err)
		}
		if count >= c.limit {
			return l.deny(c, count, now), nil
		}
	}

	for _, c := range checks {
		if _, err := l.store.IncrementAndGet(ctx, c.scope, c.window, now); err != nil {
			return Decision{}, fmt.Errorf("record %s/%s: %w", c.scope, c.window, err)
		}
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) deny(c check, count int64, now time.Time) Decision {
	return Decision{
		Scope:      c.scope,
		Window:     c.window,
		Limit:      c.limit,
		Count:      count,
		RetryAfter: c.window.End(now).Sub(now),
	}
}

// checks builds the ordered list of limits to evaluate: global scope first,
// then the client, smallest window first within each scope. Windows without
// a configured limit are skipped.
func (l *Limiter) checks(client identity.ClientKey, profile string) []check {
	var checks []check
	appendScope := func(scope counter.Scope, limits config.WindowLimits) {
		for _, w := range counter.Windows {
			if limit := limitFor(limits, w); limit != nil {
				checks = append(checks, check{scope: scope, window: w, limit: *limit})
			}
		}
	}
	appendScope(counter.ScopeGlobal, l.cfg.Global)
	appendScope(counter.Scope(client), l.cfg.ProfileLimits(profile))
	return checks
}

func limitFor(limits config.WindowLimits, w counter.Window) *int64 {
	switch w {
	case counter.WindowMinute:
		return limits.PerMinute
	case counter.WindowHour:
		return limits.PerHour
	case counter.WindowDay:
		return limits.PerDay
	}
	return nil
}

// WindowUsage reports consumption of one window for the limits endpoint.
type WindowUsage struct {
	Window    counter.Window `json:"window"`
	Limit     int64          `json:"limit"`
	Used      int64          `json:"used"`
	Remaining int64          `json:"remaining"`
	ResetsIn  time.Duration  `json:"resets_in"`
}

// Usage reports the client's current consumption without recording anything.
func (l *Limiter) Usage(ctx context.Context, client identity.ClientKey, profile string) ([]WindowUsage, error) {
	now := l.now()
	limits := l.cfg.ProfileLimits(profile)

	var usage []WindowUsage
	for _, w := range counter.Windows {
		limit := limitFor(limits, w)
		if limit == nil {
			continue
		}
		count, err := l.store.Peek(ctx, counter.Scope(client), w, now)
		if err != nil {
			return nil, fmt.Errorf("peek %s: %w", w, err)
		}
		remaining := *limit - count
		if remaining < 0 {
			remaining = 0
		}
		usage = append(usage, WindowUsage{
			Window:    w,
			Limit:     *limit,
			Used:      count,
			Remaining: remaining,
			ResetsIn:  w.End(now).Sub(now),
		})
	}
	return usage, nil
}
