package tipio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zyedidia/generic/mapset"
)

type fakeWallet struct {
	connected    bool
	connectErr   error
	connectCalls int
}

func (w *fakeWallet) Connected() bool {
	return w.connected
}

func (w *fakeWallet) Connect(ctx context.Context, kind string) error {
	w.connectCalls++
	if w.connectErr != nil {
		return w.connectErr
	}

	w.connected = true
	return nil
}

func backendFees(policy FeePolicy, fee Amount) func(balance Amount, tokenID string) (*FeeBreakdown, error) {
	return func(balance Amount, tokenID string) (*FeeBreakdown, error) {
		fees := policy.ComputeWithdrawalFee(balance, &TokenMetadata{Fee: fee})
		return &fees, nil
	}
}

func testProfile() *Profile {
	principal := "aaaaa-aa"
	kind := "oisy"

	return &Profile{
		Username:        "alice",
		WalletPrincipal: &principal,
		WalletType:      &kind,
		Tier:            TierFree,
	}
}

func newTestWithdrawer(t *testing.T, backend *fakeBackend, wallet Wallet) (*Withdrawer, *Aggregator) {
	t.Helper()

	agg := NewAggregator(backend, "alice")
	if err := agg.RefreshNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := NewWithdrawer(backend, nil, wallet, DefaultFeePolicy(), testDB(t), agg)
	return w, agg
}

func TestWithdrawCompletes(t *testing.T) {
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Username: "alice", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 1000000}},
		fees:     backendFees(DefaultFeePolicy(), 10000),
		withdraw: func(tipID string) (*Tip, error) {
			return &Tip{ID: tipID, Status: TipStatusWithdrawn}, nil
		},
	}

	wallet := &fakeWallet{connected: true}
	w, _ := newTestWithdrawer(t, backend, wallet)

	tip, _ := w.agg.Tip("1")
	res := w.Withdraw(context.Background(), testProfile(), tip, 1000000)

	if res.State != WithdrawStateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}

	if res.Fees == nil || res.Fees.AmountToReceive != 970000 {
		t.Errorf("fees = %+v", res.Fees)
	}

	if wallet.connectCalls != 0 {
		t.Errorf("connect calls = %d, want 0", wallet.connectCalls)
	}

	if len(backend.withdrawCalls) != 1 {
		t.Errorf("withdraw calls = %d, want exactly 1", len(backend.withdrawCalls))
	}
}

func TestWithdrawReconnectsOnce(t *testing.T) {
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 1000000}},
		fees:     backendFees(DefaultFeePolicy(), 10000),
		withdraw: func(tipID string) (*Tip, error) { return &Tip{ID: tipID}, nil },
	}

	wallet := &fakeWallet{connected: false}
	w, _ := newTestWithdrawer(t, backend, wallet)

	tip, _ := w.agg.Tip("1")
	res := w.Withdraw(context.Background(), testProfile(), tip, 1000000)

	if res.State != WithdrawStateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}

	if wallet.connectCalls != 1 {
		t.Errorf("connect calls = %d, want 1", wallet.connectCalls)
	}
}

func TestWithdrawReconnectFailure(t *testing.T) {
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 1000000}},
		fees:     backendFees(DefaultFeePolicy(), 10000),
	}

	wallet := &fakeWallet{connected: false, connectErr: errors.New("user closed the popup")}
	w, _ := newTestWithdrawer(t, backend, wallet)

	tip, _ := w.agg.Tip("1")
	res := w.Withdraw(context.Background(), testProfile(), tip, 1000000)

	if res.State != WithdrawStateFailed {
		t.Fatalf("state = %s", res.State)
	}

	if !errors.Is(res.Err, ErrWalletDisconnected) {
		t.Errorf("err = %v, want ErrWalletDisconnected", res.Err)
	}

	// no withdraw request goes out without a wallet session
	if len(backend.withdrawCalls) != 0 {
		t.Errorf("withdraw calls = %d, want 0", len(backend.withdrawCalls))
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 10000}},
		fees:     backendFees(DefaultFeePolicy(), 10000),
	}

	wallet := &fakeWallet{connected: true}
	w, _ := newTestWithdrawer(t, backend, wallet)

	tip, _ := w.agg.Tip("1")
	res := w.Withdraw(context.Background(), testProfile(), tip, 10000)

	// terminal, but distinct from Failed
	if res.State != WithdrawStateInsufficient {
		t.Fatalf("state = %s", res.State)
	}

	if !errors.Is(res.Err, ErrInsufficientBalance) {
		t.Errorf("err = %v", res.Err)
	}

	if len(backend.withdrawCalls) != 0 {
		t.Errorf("withdraw calls = %d, want 0", len(backend.withdrawCalls))
	}
}

func TestWithdrawTooSmallBlocked(t *testing.T) {
	// 4000 clears the fees but sits under 5x the ledger fee
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 4000}},
		fees:     backendFees(DefaultFeePolicy(), 1000),
	}

	wallet := &fakeWallet{connected: true}
	w, _ := newTestWithdrawer(t, backend, wallet)

	tip, _ := w.agg.Tip("1")
	res := w.Withdraw(context.Background(), testProfile(), tip, 4000)

	if res.State != WithdrawStateInsufficient {
		t.Fatalf("state = %s", res.State)
	}
}

func TestBulkWithdrawIsolatesFailures(t *testing.T) {
	backend := &fakeBackend{
		tips: []*Tip{
			{ID: "1", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived},
			{ID: "2", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived},
			{ID: "3", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived},
		},
		balances: []TipBalance{
			{TipID: "1", Balance: 1000000},
			{TipID: "2", Balance: 1000000},
			{TipID: "3", Balance: 1000000},
		},
		fees: backendFees(DefaultFeePolicy(), 10000),
		withdraw: func(tipID string) (*Tip, error) {
			if tipID == "2" {
				return nil, &BackendError{Msg: "tip already claimed"}
			}
			return &Tip{ID: tipID}, nil
		},
	}

	wallet := &fakeWallet{connected: true}
	w, _ := newTestWithdrawer(t, backend, wallet)

	selection := mapset.New[string]()
	selection.Put("1")
	selection.Put("2")
	selection.Put("3")

	report := w.WithdrawAll(context.Background(), testProfile(), selection)

	if report.Success != 2 || report.Failed != 1 {
		t.Fatalf("report = %d/%d, want 2/1", report.Success, report.Failed)
	}

	// failed tip stays selected for retry; succeeded ones leave
	if !selection.Has("2") {
		t.Error("tip 2 dropped from selection")
	}

	if selection.Has("1") || selection.Has("3") {
		t.Error("succeeded tips still selected")
	}

	if len(backend.withdrawCalls) != 3 {
		t.Errorf("withdraw calls = %d, want 3", len(backend.withdrawCalls))
	}
}

func TestWithdrawRecordsActivity(t *testing.T) {
	backend := &fakeBackend{
		tips:     []*Tip{{ID: "1", Username: "alice", Token: "ICP", TokenID: "ryjl3", Status: TipStatusReceived}},
		balances: []TipBalance{{TipID: "1", Balance: 1000000}},
		fees:     backendFees(DefaultFeePolicy(), 10000),
		withdraw: func(tipID string) (*Tip, error) { return &Tip{ID: tipID}, nil },
	}

	wallet := &fakeWallet{connected: true}
	w, _ := newTestWithdrawer(t, backend, wallet)

	tip, _ := w.agg.Tip("1")
	if res := w.Withdraw(context.Background(), testProfile(), tip, 1000000); res.State != WithdrawStateCompleted {
		t.Fatalf("state = %s", res.State)
	}

	records, err := ListWithdrawals(w.db, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	rec := records[0]
	if rec.TipID != "1" || !rec.Succeeded || rec.Received != 970000 {
		t.Errorf("record = %+v", rec)
	}
}
