package tipio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
)

// WithdrawState tracks a single withdrawal flow.
type WithdrawState uint8

const (
	WithdrawStateInitial WithdrawState = iota
	WithdrawStateReconnecting
	WithdrawStateFeeCalculated
	WithdrawStateConfirming
	WithdrawStateSubmitting
	WithdrawStateCompleted
	// WithdrawStateInsufficient is terminal but distinct from Failed:
	// nothing went wrong, the balance just cannot cover the fees.
	WithdrawStateInsufficient
	WithdrawStateFailed
)

func (s WithdrawState) String() string {
	switch s {
	case WithdrawStateInitial:
		return "Initial"
	case WithdrawStateReconnecting:
		return "Reconnecting"
	case WithdrawStateFeeCalculated:
		return "FeeCalculated"
	case WithdrawStateConfirming:
		return "Confirming"
	case WithdrawStateSubmitting:
		return "Submitting"
	case WithdrawStateCompleted:
		return "Completed"
	case WithdrawStateInsufficient:
		return "Insufficient"
	case WithdrawStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

type WithdrawResult struct {
	TipID string
	State WithdrawState
	Fees  *FeeBreakdown
	Err   error
}

func (r *WithdrawResult) MarshalJSON() ([]byte, error) {
	out := struct {
		TipID string        `json:"tip_id"`
		State string        `json:"state"`
		Fees  *FeeBreakdown `json:"fees,omitempty"`
		Err   string        `json:"err,omitempty"`
	}{
		TipID: r.TipID,
		State: r.State.String(),
		Fees:  r.Fees,
	}

	if r.Err != nil {
		out.Err = r.Err.Error()
	}

	return json.Marshal(out)
}

type BulkReport struct {
	Success int               `json:"success"`
	Failed  int               `json:"failed"`
	Results []*WithdrawResult `json:"results"`
}

// Withdrawer sequences a withdrawal: reconnect if the wallet session
// dropped, compute the fee breakdown, then submit. One request per
// tip, always.
type Withdrawer struct {
	backend  BackendClient
	registry *Registry
	wallet   Wallet
	policy   FeePolicy
	db       *badger.DB
	agg      *Aggregator
}

func NewWithdrawer(
	backend BackendClient,
	registry *Registry,
	wallet Wallet,
	policy FeePolicy,
	db *badger.DB,
	agg *Aggregator,
) *Withdrawer {
	return &Withdrawer{
		backend:  backend,
		registry: registry,
		wallet:   wallet,
		policy:   policy,
		db:       db,
		agg:      agg,
	}
}

// Withdraw runs the full flow for one tip. The returned result always
// carries the terminal state; Err is set for Failed and Insufficient.
func (w *Withdrawer) Withdraw(ctx context.Context, profile *Profile, tip *Tip, balance Amount) *WithdrawResult {
	res := &WithdrawResult{TipID: tip.ID, State: WithdrawStateInitial}

	if w.wallet != nil && !w.wallet.Connected() {
		res.State = WithdrawStateReconnecting

		kind := ""
		if profile.WalletType != nil {
			kind = *profile.WalletType
		}

		if err := reconnectWallet(ctx, w.wallet, kind); err != nil {
			res.State = WithdrawStateFailed
			res.Err = fmt.Errorf("%w: %v", ErrWalletDisconnected, err)
			return res
		}
	}

	fees, err := w.fees(ctx, balance, tip, profile.Tier)
	if err != nil {
		res.State = WithdrawStateFailed
		res.Err = err
		return res
	}

	res.State = WithdrawStateFeeCalculated
	res.Fees = fees

	if fees.AmountToReceive == 0 || w.policy.AmountTooSmall(balance, fees.LedgerFee) {
		res.State = WithdrawStateInsufficient
		res.Err = ErrInsufficientBalance
		w.record(tip, balance, fees, res)
		return res
	}

	// Confirmation happens at the call boundary; past this point the
	// single submit for this tip goes out.
	res.State = WithdrawStateSubmitting

	if _, err := w.backend.WithdrawTip(ctx, tip.ID); err != nil {
		res.State = WithdrawStateFailed
		res.Err = err
		w.record(tip, balance, fees, res)
		return res
	}

	res.State = WithdrawStateCompleted
	w.record(tip, balance, fees, res)

	if w.agg != nil {
		if err := w.agg.RefreshNow(ctx); err != nil {
			slog.Warn("post-withdrawal refresh failed", slog.Any("err", err))
		}
	}

	return res
}

// WithdrawAll drains a selection of tips one at a time. A failure on
// one tip never aborts the rest; succeeded tips leave the selection,
// failed ones stay for retry.
func (w *Withdrawer) WithdrawAll(ctx context.Context, profile *Profile, selection mapset.Set[string]) *BulkReport {
	report := &BulkReport{}

	var ids []string
	selection.Each(func(id string) {
		ids = append(ids, id)
	})

	for _, id := range ids {
		tip, ok := w.agg.Tip(id)
		if !ok {
			continue
		}

		balance, ok := w.agg.BalanceOf(id)
		if !ok || balance == 0 {
			continue
		}

		res := w.Withdraw(ctx, profile, tip, balance)
		report.Results = append(report.Results, res)

		if res.State == WithdrawStateCompleted {
			report.Success++
			selection.Remove(id)
		} else {
			report.Failed++
			slog.Error("bulk withdrawal item failed",
				"tip", id, "state", res.State.String(), slog.Any("err", res.Err))
		}
	}

	return report
}

// fees asks the backend for the authoritative breakdown and falls
// back to the local calculator when the call fails.
func (w *Withdrawer) fees(ctx context.Context, balance Amount, tip *Tip, tier Tier) (*FeeBreakdown, error) {
	if fees, err := w.backend.CalculateWithdrawalFees(ctx, balance, tip.TokenID); err == nil {
		return fees, nil
	} else {
		var be *BackendError
		if errors.As(err, &be) {
			return nil, err
		}

		slog.Warn("backend fee calculation failed, computing locally",
			"tip", tip.ID, slog.Any("err", err))
	}

	token, err := w.registry.GetToken(ctx, tip.TokenID)
	if err != nil {
		return nil, err
	}

	fees := w.policy.ForTier(tier).ComputeWithdrawalFee(balance, token)
	return &fees, nil
}

func (w *Withdrawer) record(tip *Tip, balance Amount, fees *FeeBreakdown, res *WithdrawResult) {
	if w.db == nil {
		return
	}

	rec := &WithdrawalRecord{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		TipID:     tip.ID,
		Username:  tip.Username,
		Token:     tip.Token,
		Amount:    balance,
		Fees:      fees.TotalFees,
		Received:  fees.AmountToReceive,
		Succeeded: res.State == WithdrawStateCompleted,
	}

	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	if err := SaveWithdrawal(w.db, rec); err != nil {
		slog.Error("save withdrawal record failed", slog.Any("err", err))
	}
}
