package tipio

import (
	"context"
	"errors"
	"testing"
)

type fakeBackend struct {
	profile  *Profile
	tips     []*Tip
	balances []TipBalance

	fees     func(balance Amount, tokenID string) (*FeeBreakdown, error)
	withdraw func(tipID string) (*Tip, error)

	listErr     error
	balancesErr error

	withdrawCalls []string
}

func (b *fakeBackend) Me(ctx context.Context, token string) (*Profile, error) {
	return b.profile, nil
}

func (b *fakeBackend) ListTipsForUser(ctx context.Context, username string) ([]*Tip, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.tips, nil
}

func (b *fakeBackend) AllTipBalances(ctx context.Context) ([]TipBalance, error) {
	if b.balancesErr != nil {
		return nil, b.balancesErr
	}
	return b.balances, nil
}

func (b *fakeBackend) CalculateWithdrawalFees(ctx context.Context, balance Amount, tokenID string) (*FeeBreakdown, error) {
	if b.fees != nil {
		return b.fees(balance, tokenID)
	}
	return nil, errors.New("fees unavailable")
}

func (b *fakeBackend) WithdrawTip(ctx context.Context, tipID string) (*Tip, error) {
	b.withdrawCalls = append(b.withdrawCalls, tipID)
	if b.withdraw != nil {
		return b.withdraw(tipID)
	}
	return nil, errors.New("withdraw unavailable")
}

func TestSumStealthBalancesExcludesWithdrawn(t *testing.T) {
	tips := []*Tip{
		{ID: "1", Token: "ICP", Status: TipStatusReceived},
		{ID: "2", Token: "ICP", Status: TipStatusWithdrawn},
	}

	balances := []TipBalance{
		{TipID: "1", Balance: 500},
		{TipID: "2", Balance: 300},
	}

	totals := SumStealthBalances(tips, balances)

	if totals["ICP"] != 500 {
		t.Errorf("ICP total = %d, want 500 (withdrawn tip excluded)", totals["ICP"])
	}
}

func TestSumStealthBalancesBuckets(t *testing.T) {
	tips := []*Tip{
		{ID: "1", Token: "ICP", Status: TipStatusReceived},
		{ID: "2", Token: "ckBTC", Status: TipStatusReceived},
		{ID: "3", Token: "CHAT", Status: TipStatusReceived},
		{ID: "4", Token: "ICP", Status: TipStatusPending},
	}

	balances := []TipBalance{
		{TipID: "1", Balance: 100},
		{TipID: "2", Balance: 50},
		{TipID: "3", Balance: 25},
		{TipID: "4", Balance: 10},
		{TipID: "unknown", Balance: 999},
		{TipID: "2", Balance: 0},
	}

	totals := SumStealthBalances(tips, balances)

	if totals["ICP"] != 110 {
		t.Errorf("ICP = %d, want 110", totals["ICP"])
	}

	if totals["ckBTC"] != 50 {
		t.Errorf("ckBTC = %d, want 50", totals["ckBTC"])
	}

	// unlisted tokens get their own bucket when they show up
	if totals["CHAT"] != 25 {
		t.Errorf("CHAT = %d, want 25", totals["CHAT"])
	}

	// the fixed buckets are always present
	if _, ok := totals["ckUSDC"]; !ok {
		t.Error("ckUSDC bucket missing")
	}

	if totals["ckUSDC"] != 0 {
		t.Errorf("ckUSDC = %d, want 0", totals["ckUSDC"])
	}
}

func TestAggregatorRefresh(t *testing.T) {
	backend := &fakeBackend{
		tips: []*Tip{
			{ID: "1", Token: "ICP", Status: TipStatusReceived},
		},
		balances: []TipBalance{
			{TipID: "1", Balance: 500},
		},
	}

	agg := NewAggregator(backend, "alice")

	if err := agg.RefreshNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	totals, updatedAt := agg.Totals()
	if totals["ICP"] != 500 {
		t.Errorf("ICP total = %d, want 500", totals["ICP"])
	}

	if updatedAt.IsZero() {
		t.Error("updatedAt not set")
	}

	if b, ok := agg.BalanceOf("1"); !ok || b != 500 {
		t.Errorf("BalanceOf(1) = %d, %v", b, ok)
	}

	if _, ok := agg.Tip("1"); !ok {
		t.Error("tip 1 not found")
	}
}

func TestAggregatorKeepsStaleSnapshotOnFailure(t *testing.T) {
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Token: "ICP", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 500}},
	}

	agg := NewAggregator(backend, "alice")
	ctx := context.Background()

	if err := agg.RefreshNow(ctx); err != nil {
		t.Fatal(err)
	}

	backend.balancesErr = errors.New("backend down")

	if err := agg.RefreshNow(ctx); err == nil {
		t.Fatal("expected refresh error")
	}

	// the previous snapshot stays visible
	totals, _ := agg.Totals()
	if totals["ICP"] != 500 {
		t.Errorf("stale ICP total = %d, want 500", totals["ICP"])
	}
}
