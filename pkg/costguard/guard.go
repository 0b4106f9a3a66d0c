package costguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dailyfactoid/factoid/pkg/config"
)

// BudgetExceededError reports a denied reservation.
type BudgetExceededError struct {
	Profile   string
	Budget    float64
	Spent     float64
	Estimate  float64
	Remaining float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("daily budget exceeded for profile %q: spent %.4f of %.2f, estimate %.4f would overshoot (%.4f remaining)",
		e.Profile, e.Spent, e.Budget, e.Estimate, e.Remaining)
}

// Guard enforces daily spend budgets per billing profile.
type Guard struct {
	cfg    *config.BudgetConfig
	ledger Ledger
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a cost guard over the given ledger.
func NewGuard(cfg *config.BudgetConfig, ledger Ledger, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{cfg: cfg, ledger: ledger, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewLedger builds the spend ledger for the given configuration, sharing the
// same selection rule as the counter store: Redis behind a per-call fallback
// when configured, otherwise in-process.
func NewLedger(cfg *config.RedisConfig, logger *slog.Logger) Ledger {
	if cfg == nil || cfg.Addr == "" {
		return NewMemoryLedger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return NewFallbackLedger(NewRedisLedger(client), cfg.OpTimeout, logger)
}

// day returns the ledger key day for the current instant, in UTC.
func (g *Guard) day() string {
	return g.now().UTC().Format("2006-01-02")
}

// Reserve checks the profile's budget and records the estimate as in-flight
// spend. It returns *BudgetExceededError when the estimate does not fit. The
// returned reservation must be settled or released exactly once; the
// generator does this on every exit path.
func (g *Guard) Reserve(ctx context.Context, profile string, estimate float64) (*Reservation, error) {
	if estimate <= 0 {
		estimate = g.cfg.DefaultEstimate
	}

	if !g.cfg.IsEnabled() {
		return &Reservation{resolved: true}, nil
	}

	budget := -1.0 // unlimited when no budget is configured for the profile
	if b, ok := g.cfg.BudgetFor(profile); ok {
		budget = b
	}

	day := g.day()
	ok, spend, err := g.ledger.Reserve(ctx, profile, day, estimate, budget)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	if !ok {
		remaining := budget - spend.Total()
		if remaining < 0 {
			remaining = 0
		}
		return nil, &BudgetExceededError{
			Profile:   profile,
			Budget:    budget,
			Spent:     spend.Total(),
			Estimate:  estimate,
			Remaining: remaining,
		}
	}

	return &Reservation{
		guard:    g,
		profile:  profile,
		day:      day,
		estimate: estimate,
	}, nil
}

// CurrentSpend reports today's spend for a profile.
func (g *Guard) CurrentSpend(ctx context.Context, profile string) (Spend, error) {
	return g.ledger.Current(ctx, profile, g.day())
}

// Reservation is an in-flight claim on a profile's daily budget. It is
// resolved by exactly one of Settle or Release; later calls are no-ops.
//
// The day is captured at reservation time, so a request straddling midnight
// settles against the day it was admitted.
type Reservation struct {
	guard    *Guard
	profile  string
	day      string
	estimate float64

	mu       sync.Mutex
	resolved bool
}

// Estimate returns the reserved amount.
func (r *Reservation) Estimate() float64 {
	return r.estimate
}

// Settle finalizes the reservation at the actual cost.
func (r *Reservation) Settle(ctx context.Context, actual float64) error {
	if !r.begin("settle") {
		return nil
	}
	if actual < 0 {
		actual = 0
	}
	return r.guard.ledger.Settle(ctx, r.profile, r.day, r.estimate, actual)
}

// Release drops the reservation without charging anything.
func (r *Reservation) Release(ctx context.Context) error {
	if !r.begin("release") {
		return nil
	}
	return r.guard.ledger.Release(ctx, r.profile, r.day, r.estimate)
}

// begin marks the reservation resolved, reporting whether this call won.
func (r *Reservation) begin(op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		if r.guard != nil {
			r.guard.logger.Warn("reservation already resolved", "operation", op, "profile", r.profile)
		}
		return false
	}
	r.resolved = true
	return r.guard != nil
}
