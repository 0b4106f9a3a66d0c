package costguard

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dailyfactoid/factoid/pkg/config"
)

func testGuard(t *testing.T, profiles map[string]float64) *Guard {
	t.Helper()
	cfg := &config.BudgetConfig{
		Enabled:         config.BoolPtr(true),
		Profiles:        profiles,
		DefaultEstimate: 0.10,
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewGuard(cfg, NewMemoryLedger(), slog.Default(), WithClock(func() time.Time { return now }))
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGuard_ReserveWithinBudget(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 1.00})

	res, err := g.Reserve(context.Background(), "anonymous", 0.25)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !approx(res.Estimate(), 0.25) {
		t.Errorf("expected estimate 0.25, got %v", res.Estimate())
	}

	spend, _ := g.CurrentSpend(context.Background(), "anonymous")
	if !approx(spend.Reserved, 0.25) || !approx(spend.Settled, 0) {
		t.Errorf("unexpected spend after reserve: %+v", spend)
	}
}

func TestGuard_ReserveDeniedOverBudget(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 0.30})
	ctx := context.Background()

	if _, err := g.Reserve(ctx, "anonymous", 0.25); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	_, err := g.Reserve(ctx, "anonymous", 0.25)
	var budgetErr *BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if !approx(budgetErr.Remaining, 0.05) {
		t.Errorf("expected remaining 0.05, got %v", budgetErr.Remaining)
	}
}

func TestGuard_SettleReplacesEstimateWithActual(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 1.00})
	ctx := context.Background()

	res, _ := g.Reserve(ctx, "anonymous", 0.25)
	if err := res.Settle(ctx, 0.07); err != nil {
		t.Fatalf("settle: %v", err)
	}

	spend, _ := g.CurrentSpend(ctx, "anonymous")
	if !approx(spend.Reserved, 0) {
		t.Errorf("expected no reserved spend after settle, got %v", spend.Reserved)
	}
	if !approx(spend.Settled, 0.07) {
		t.Errorf("expected settled 0.07, got %v", spend.Settled)
	}
}

func TestGuard_ReleaseReturnsFullEstimate(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 0.30})
	ctx := context.Background()

	res, _ := g.Reserve(ctx, "anonymous", 0.25)
	if err := res.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The budget is whole again.
	if _, err := g.Reserve(ctx, "anonymous", 0.25); err != nil {
		t.Errorf("expected reserve to succeed after release: %v", err)
	}
}

func TestReservation_ResolvedExactlyOnce(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 1.00})
	ctx := context.Background()

	res, _ := g.Reserve(ctx, "anonymous", 0.25)
	if err := res.Settle(ctx, 0.10); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Later resolutions are no-ops, not double charges.
	if err := res.Settle(ctx, 0.10); err != nil {
		t.Errorf("second settle should be a no-op: %v", err)
	}
	if err := res.Release(ctx); err != nil {
		t.Errorf("release after settle should be a no-op: %v", err)
	}

	spend, _ := g.CurrentSpend(ctx, "anonymous")
	if !approx(spend.Settled, 0.10) {
		t.Errorf("expected settled 0.10 after duplicate resolutions, got %v", spend.Settled)
	}
}

func TestGuard_ConcurrentReservationsCannotOvershoot(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 1.00})
	ctx := context.Background()

	const workers = 8
	results := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = g.Reserve(ctx, "anonymous", 0.60)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range results {
		if err == nil {
			admitted++
		} else {
			var budgetErr *BudgetExceededError
			if !errors.As(err, &budgetErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}
	if admitted != 1 {
		t.Errorf("budget 1.00 fits exactly one 0.60 reservation, got %d", admitted)
	}

	spend, _ := g.CurrentSpend(ctx, "anonymous")
	if !approx(spend.Reserved, 0.60) {
		t.Errorf("expected reserved 0.60, got %v", spend.Reserved)
	}
}

func TestGuard_ZeroEstimateUsesDefault(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 1.00})

	res, err := g.Reserve(context.Background(), "anonymous", 0)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !approx(res.Estimate(), 0.10) {
		t.Errorf("expected default estimate 0.10, got %v", res.Estimate())
	}
}

func TestGuard_ProfileWithoutBudgetIsUnlimited(t *testing.T) {
	g := testGuard(t, map[string]float64{"anonymous": 1.00})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := g.Reserve(ctx, "internal", 0.60); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	// Spend is still recorded for reporting.
	spend, _ := g.CurrentSpend(ctx, "internal")
	if !approx(spend.Reserved, 18.0) {
		t.Errorf("expected reserved 18.00, got %v", spend.Reserved)
	}
}

func TestGuard_DisabledAlwaysReserves(t *testing.T) {
	cfg := &config.BudgetConfig{Enabled: config.BoolPtr(false), DefaultEstimate: 0.10}
	g := NewGuard(cfg, NewMemoryLedger(), slog.Default())
	ctx := context.Background()

	res, err := g.Reserve(ctx, "anonymous", 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := res.Settle(ctx, 100); err != nil {
		t.Errorf("settle on disabled guard: %v", err)
	}
}

func TestGuard_SettleAppliesToReservationDay(t *testing.T) {
	cfg := &config.BudgetConfig{
		Enabled:         config.BoolPtr(true),
		Profiles:        map[string]float64{"anonymous": 1.00},
		DefaultEstimate: 0.10,
	}
	ledger := NewMemoryLedger()

	now := time.Date(2026, 3, 1, 23, 59, 50, 0, time.UTC)
	clock := func() time.Time { return now }
	g := NewGuard(cfg, ledger, slog.Default(), WithClock(clock))
	ctx := context.Background()

	res, _ := g.Reserve(ctx, "anonymous", 0.25)

	// Midnight passes while the upstream call is in flight.
	now = now.Add(20 * time.Second)
	if err := res.Settle(ctx, 0.20); err != nil {
		t.Fatalf("settle: %v", err)
	}

	before, _ := ledger.Current(ctx, "anonymous", "2026-03-01")
	if !approx(before.Settled, 0.20) || !approx(before.Reserved, 0) {
		t.Errorf("expected charge on the admission day, got %+v", before)
	}
	after, _ := ledger.Current(ctx, "anonymous", "2026-03-02")
	if !approx(after.Total(), 0) {
		t.Errorf("expected no spend on the new day, got %+v", after)
	}
}
