package tipio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const balancePollInterval = 5 * time.Second

// The fixed buckets every snapshot carries, even when empty.
var stealthBuckets = []string{"ICP", "ckBTC", "ckUSDC"}

// SumStealthBalances folds per-tip balances into per-token totals.
// Entries with a zero balance, an unknown tip, or a tip already
// marked withdrawn do not count.
func SumStealthBalances(tips []*Tip, balances []TipBalance) map[string]Amount {
	totals := make(map[string]Amount, len(stealthBuckets))
	for _, symbol := range stealthBuckets {
		totals[symbol] = 0
	}

	byID := make(map[string]*Tip, len(tips))
	for _, tip := range tips {
		byID[tip.ID] = tip
	}

	for _, b := range balances {
		if b.Balance == 0 {
			continue
		}

		tip, ok := byID[b.TipID]
		if !ok || tip.Status == TipStatusWithdrawn {
			continue
		}

		totals[tip.Token] += b.Balance
	}

	return totals
}

// Aggregator polls the backend for the creator's tips and their
// per-tip balances, and keeps the latest per-token totals. A cycle
// that fails leaves the previous snapshot in place.
type Aggregator struct {
	backend  BackendClient
	username string
	interval time.Duration

	sf singleflight.Group

	mu        sync.Mutex
	tips      []*Tip
	balances  map[string]Amount
	totals    map[string]Amount
	updatedAt time.Time
}

func NewAggregator(backend BackendClient, username string) *Aggregator {
	return &Aggregator{
		backend:  backend,
		username: username,
		interval: balancePollInterval,
		balances: map[string]Amount{},
		totals:   map[string]Amount{},
	}
}

// Run polls until the context is cancelled. Cycles are serialized; a
// refresh triggered elsewhere while one is in flight joins it instead
// of starting another fetch.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		if err := a.RefreshNow(ctx); err != nil {
			slog.Error("balance poll cycle failed", slog.Any("err", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.interval):
		}
	}
}

// RefreshNow runs one aggregation cycle, collapsing concurrent calls
// into the in-flight one.
func (a *Aggregator) RefreshNow(ctx context.Context) error {
	_, err, _ := a.sf.Do("aggregate", func() (interface{}, error) {
		return nil, a.refresh(ctx)
	})

	return err
}

func (a *Aggregator) refresh(ctx context.Context) error {
	tips, err := a.backend.ListTipsForUser(ctx, a.username)
	if err != nil {
		return err
	}

	balances, err := a.backend.AllTipBalances(ctx)
	if err != nil {
		return err
	}

	byTip := make(map[string]Amount, len(balances))
	for _, b := range balances {
		byTip[b.TipID] = b.Balance
	}

	totals := SumStealthBalances(tips, balances)

	a.mu.Lock()
	a.tips = tips
	a.balances = byTip
	a.totals = totals
	a.updatedAt = time.Now()
	a.mu.Unlock()

	return nil
}

// Totals returns the latest per-token totals and when they were
// computed.
func (a *Aggregator) Totals() (map[string]Amount, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	totals := make(map[string]Amount, len(a.totals))
	for k, v := range a.totals {
		totals[k] = v
	}

	return totals, a.updatedAt
}

func (a *Aggregator) Tips() []*Tip {
	a.mu.Lock()
	defer a.mu.Unlock()

	tips := make([]*Tip, len(a.tips))
	copy(tips, a.tips)
	return tips
}

func (a *Aggregator) Tip(id string) (*Tip, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tip := range a.tips {
		if tip.ID == id {
			return tip, true
		}
	}

	return nil, false
}

func (a *Aggregator) BalanceOf(tipID string) (Amount, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.balances[tipID]
	return b, ok
}
