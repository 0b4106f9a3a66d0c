package costguard

import (
	"context"
	"sync"
	"time"
)

type ledgerKey struct {
	profile string
	day     string
}

// MemoryLedger keeps spend in a mutex-protected map. Entries older than two
// days are pruned opportunistically on writes.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[ledgerKey]*Spend
	lastGC  time.Time
}

// NewMemoryLedger creates an in-process spend ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[ledgerKey]*Spend)}
}

func (l *MemoryLedger) entry(profile, day string) *Spend {
	key := ledgerKey{profile: profile, day: day}
	e, ok := l.entries[key]
	if !ok {
		e = &Spend{}
		l.entries[key] = e
	}
	return e
}

func (l *MemoryLedger) Reserve(_ context.Context, profile, day string, amount, budget float64) (bool, Spend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybePrune(day)

	e := l.entry(profile, day)
	if budget >= 0 && e.Total()+amount > budget {
		return false, *e, nil
	}
	e.Reserved += amount
	return true, *e, nil
}

func (l *MemoryLedger) Settle(_ context.Context, profile, day string, estimate, actual float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(profile, day)
	e.Reserved -= estimate
	if e.Reserved < 0 {
		e.Reserved = 0
	}
	e.Settled += actual
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, profile, day string, estimate float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(profile, day)
	e.Reserved -= estimate
	if e.Reserved < 0 {
		e.Reserved = 0
	}
	return nil
}

func (l *MemoryLedger) Current(_ context.Context, profile, day string) (Spend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[ledgerKey{profile: profile, day: day}]; ok {
		return *e, nil
	}
	return Spend{}, nil
}

func (l *MemoryLedger) Close() error { return nil }

// maybePrune drops entries for days other than today and yesterday. Day
// strings sort lexicographically, so a plain comparison suffices.
func (l *MemoryLedger) maybePrune(today string) {
	now := time.Now()
	if now.Sub(l.lastGC) < time.Hour {
		return
	}
	l.lastGC = now

	for key := range l.entries {
		if key.day < today && key.day != yesterday(today) {
			delete(l.entries, key)
		}
	}
}

func yesterday(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format("2006-01-02")
}
