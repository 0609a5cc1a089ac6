package tipio

// FeeBreakdown is the cost split of withdrawing a gross balance.
type FeeBreakdown struct {
	PlatformFee     Amount `json:"platform_fee"`
	LedgerFee       Amount `json:"ledger_fee"`
	TotalFees       Amount `json:"total_fees"`
	AmountToReceive Amount `json:"amount_to_receive"`
}

// FeePolicy holds the product fee constants. They are policy, not
// protocol, so they stay configurable.
type FeePolicy struct {
	// PlatformFeePercent is the percentage retained on withdrawal.
	PlatformFeePercent uint64
	// MinFeeMultiple flags amounts below MinFeeMultiple x ledger fee
	// as too small to be worth withdrawing.
	MinFeeMultiple uint64
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PlatformFeePercent: 2,
		MinFeeMultiple:     5,
	}
}

// ForTier returns the policy applied to a profile tier. Premium
// profiles have the platform fee waived.
func (p FeePolicy) ForTier(t Tier) FeePolicy {
	if t == TierPremium {
		p.PlatformFeePercent = 0
	}
	return p
}

// PlatformFee is floor(balance x percent / 100), in base units.
// Split to stay exact without overflowing 64 bits.
func (p FeePolicy) PlatformFee(balance Amount) Amount {
	q, r := uint64(balance)/100, uint64(balance)%100
	return Amount(q*p.PlatformFeePercent + r*p.PlatformFeePercent/100)
}

// ComputeWithdrawalFee breaks down the fees for withdrawing balance of
// the given token. Pure; degenerate inputs yield a zero net amount
// rather than an error.
func (p FeePolicy) ComputeWithdrawalFee(balance Amount, token *TokenMetadata) FeeBreakdown {
	platform := p.PlatformFee(balance)
	ledger := token.Fee
	total := platform + ledger

	fees := FeeBreakdown{
		PlatformFee: platform,
		LedgerFee:   ledger,
		TotalFees:   total,
	}

	if balance > total {
		fees.AmountToReceive = balance - total
	}

	return fees
}

// AmountTooSmall reports whether an amount is below the minimum worth
// moving. The boundary amount == multiple x fee is not too small.
func (p FeePolicy) AmountTooSmall(amount, ledgerFee Amount) bool {
	return uint64(amount) < uint64(ledgerFee)*p.MinFeeMultiple
}
