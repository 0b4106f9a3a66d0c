// Package ratelimit implements fixed-window admission control for the
// factoid service.
//
// Features:
//   - Multi-layer time windows (minute, hour, day)
//   - Dual scopes (global service capacity AND per-client fairness)
//   - Pluggable counter backends (in-memory and Redis, via pkg/counter)
//   - Denials never consume quota
//   - Usage statistics for the limits endpoint
//
// # Basic Usage
//
//	store := counter.NewMemoryStore()
//	limiter := ratelimit.NewLimiter(cfg, store)
//
//	decision, err := limiter.Admit(ctx, clientHash, profile)
//	if !decision.Allowed {
//	    // Respond 429 with decision.RetryAfter.
//	}
//
// Windows are checked smallest first, global scope before client scope, and
// counters are only incremented after every window has passed. The first
// violated window determines the retry-after hint.
package ratelimit
