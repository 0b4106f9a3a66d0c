// Package costguard caps daily LLM spend per billing profile. Spend is
// reserved before an upstream call, then settled to the actual cost or
// released, so concurrent requests cannot overshoot a budget between the
// check and the charge.
package costguard

import "context"

// Spend is the state of one day's ledger entry.
type Spend struct {
	// Reserved is the sum of in-flight reservation estimates.
	Reserved float64
	// Settled is the sum of finalized charges.
	Settled float64
}

// Total returns the spend counted against the budget.
func (s Spend) Total() float64 {
	return s.Reserved + s.Settled
}

// Ledger tracks reserved and settled spend keyed by (profile, UTC day).
// Implementations must make Reserve atomic: the budget check and the
// reservation happen as one step.
type Ledger interface {
	// Reserve adds amount to the day's reserved spend if the resulting
	// total stays within budget. A negative budget means unlimited; the
	// amount is recorded without a check. It returns whether the
	// reservation was taken and the total spend after the call.
	Reserve(ctx context.Context, profile, day string, amount, budget float64) (bool, Spend, error)

	// Settle converts a reservation into a finalized charge: the estimate
	// leaves the reserved sum and the actual cost joins the settled sum.
	Settle(ctx context.Context, profile, day string, estimate, actual float64) error

	// Release drops a reservation without charging anything.
	Release(ctx context.Context, profile, day string, estimate float64) error

	// Current returns the day's spend without modifying it.
	Current(ctx context.Context, profile, day string) (Spend, error)

	// Close releases ledger resources.
	Close() error
}
