package tipio

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TipStatus is the backend-driven lifecycle of a tip.
type TipStatus uint8

const (
	TipStatusPending TipStatus = iota
	TipStatusReceived
	TipStatusWithdrawn
)

func (s TipStatus) String() string {
	switch s {
	case TipStatusPending:
		return "Pending"
	case TipStatusReceived:
		return "Received"
	case TipStatusWithdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

func (s TipStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *TipStatus) UnmarshalJSON(b []byte) error {
	v, err := TipStatusFromString(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}

	*s = v
	return nil
}

func TipStatusFromString(s string) (TipStatus, error) {
	switch s {
	case "Pending":
		return TipStatusPending, nil
	case "Received":
		return TipStatusReceived, nil
	case "Withdrawn":
		return TipStatusWithdrawn, nil
	default:
		return 0, fmt.Errorf("unknown tip status %q", s)
	}
}

// Tip is a read-only copy of a backend tip record. Amount is always
// in the token's base units; CreatedAt is a nanosecond epoch.
type Tip struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	Amount    Amount    `json:"amount"`
	CreatedAt int64     `json:"created_at"`
	Message   string    `json:"message,omitempty"`
	Status    TipStatus `json:"status"`
}

// TipBalance is one entry of the backend's batch balance listing.
type TipBalance struct {
	TipID   string `json:"tip_id"`
	Balance Amount `json:"balance"`
}

type Tier uint8

const (
	TierFree Tier = iota
	TierPremium
)

func (t Tier) String() string {
	if t == TierPremium {
		return "Premium"
	}
	return "Free"
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	if strings.Trim(string(b), `"`) == "Premium" {
		*t = TierPremium
	} else {
		*t = TierFree
	}
	return nil
}

// Profile is the creator's backend profile. The backend encodes the
// wallet fields as zero-or-one element lists; they arrive here as
// plain optionals.
type Profile struct {
	Username        string  `json:"username"`
	WalletPrincipal *string `json:"wallet_principal,omitempty"`
	WalletType      *string `json:"wallet_type,omitempty"`
	Tier            Tier    `json:"tier"`
}

// WithdrawalRecord is one completed or failed withdrawal attempt,
// kept in the local activity log.
type WithdrawalRecord struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	TipID     string    `json:"tip_id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	Amount    Amount    `json:"amount"`
	Fees      Amount    `json:"fees"`
	Received  Amount    `json:"received"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
}
