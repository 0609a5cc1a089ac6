package tipio

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultTokenName     = "Unknown"
	defaultTokenSymbol   = "UNKNOWN"
	defaultTokenDecimals = 8
	defaultTokenFee      = Amount(10000)
)

// TokenMetadata describes one ledger's token. Decimals and Fee are
// always populated (defaulted on fetch failure) before any amount
// arithmetic happens.
type TokenMetadata struct {
	LedgerID  string         `json:"ledger_id"`
	Name      string         `json:"name"`
	Symbol    string         `json:"symbol"`
	Decimals  int            `json:"decimals"`
	Fee       Amount         `json:"fee"`
	Logo      string         `json:"logo,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// MetadataKind tags one arm of the ledger metadata value variant.
type MetadataKind uint8

const (
	MetadataNat MetadataKind = iota
	MetadataInt
	MetadataText
	MetadataBlob
)

// MetadataValue is a closed variant: exactly one arm is meaningful,
// selected by Kind.
type MetadataValue struct {
	Kind MetadataKind
	Nat  Amount
	Int  int64
	Text string
	Blob []byte
}

type MetadataEntry struct {
	Key   string
	Value MetadataValue
}

// LedgerClient is the per-token metadata and transfer interface of an
// external ledger.
type LedgerClient interface {
	Name(ctx context.Context) (string, error)
	Symbol(ctx context.Context) (string, error)
	Decimals(ctx context.Context) (uint8, error)
	Fee(ctx context.Context) (Amount, error)
	Metadata(ctx context.Context) ([]MetadataEntry, error)
	Balance(ctx context.Context, owner string) (Amount, error)
	Transfer(ctx context.Context, to string, amount Amount) (uint64, error)
}

// LedgerDialer opens a LedgerClient for a ledger id.
type LedgerDialer func(ctx context.Context, ledgerID string) (LedgerClient, error)

// FetchTokenMetadata assembles a token's metadata field by field.
// Each field degrades to its default on failure; only when every
// field fails does the fetch fail as a whole.
func FetchTokenMetadata(ctx context.Context, ledger LedgerClient, ledgerID string) (*TokenMetadata, error) {
	token := &TokenMetadata{
		LedgerID: ledgerID,
		Metadata: map[string]any{},
	}

	var failed int
	var lastErr error

	if name, err := ledger.Name(ctx); err != nil {
		token.Name = defaultTokenName
		failed++
		lastErr = err
	} else {
		token.Name = name
	}

	if symbol, err := ledger.Symbol(ctx); err != nil {
		token.Symbol = defaultTokenSymbol
		failed++
		lastErr = err
	} else {
		token.Symbol = symbol
	}

	if decimals, err := ledger.Decimals(ctx); err != nil {
		token.Decimals = defaultTokenDecimals
		failed++
		lastErr = err
	} else {
		token.Decimals = int(decimals)
	}

	if fee, err := ledger.Fee(ctx); err != nil {
		token.Fee = defaultTokenFee
		failed++
		lastErr = err
	} else {
		token.Fee = fee
	}

	if entries, err := ledger.Metadata(ctx); err != nil {
		failed++
		lastErr = err
	} else {
		for _, e := range entries {
			switch e.Value.Kind {
			case MetadataNat:
				token.Metadata[e.Key] = e.Value.Nat
			case MetadataInt:
				token.Metadata[e.Key] = e.Value.Int
			case MetadataText:
				token.Metadata[e.Key] = e.Value.Text
			case MetadataBlob:
				token.Metadata[e.Key] = e.Value.Blob
			}
		}
	}

	if failed == 5 {
		return nil, &MetadataFetchError{LedgerID: ledgerID, Err: lastErr}
	}

	if failed > 0 {
		slog.Warn("token metadata partially defaulted",
			"ledger", ledgerID, "failed_fields", failed, "err", lastErr)
	}

	token.Logo = logoFromMetadata(token.Metadata)
	return token, nil
}

func logoFromMetadata(md map[string]any) string {
	for _, key := range []string{"icrc1:logo", "logo"} {
		if s, ok := md[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
