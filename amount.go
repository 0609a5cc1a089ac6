package tipio

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a token amount in base units. It marshals as a decimal
// string so values survive JSON round-trips without precision loss.
type Amount uint64

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}

	*a = Amount(v)
	return nil
}

func (a Amount) decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), 0)
}

// Display renders the amount in human units, fixed to the token's
// decimal places.
func (a Amount) Display(decimals int) string {
	return a.decimal().Shift(int32(-decimals)).StringFixed(int32(decimals))
}

// DisplayCompact renders the amount in human units with trailing
// zeroes trimmed.
func (a Amount) DisplayCompact(decimals int) string {
	return a.decimal().Shift(int32(-decimals)).String()
}

// AmountFromDisplay parses a human-unit amount back into base units,
// rounding to the nearest unit.
func AmountFromDisplay(s string, decimals int) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse display amount %q: %w", s, err)
	}

	if d.Sign() < 0 {
		return 0, fmt.Errorf("negative amount %q", s)
	}

	v := d.Shift(int32(decimals)).Round(0).BigInt()
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows base units", s)
	}

	return Amount(v.Uint64()), nil
}
