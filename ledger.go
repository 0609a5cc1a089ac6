package tipio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

// ledgerHTTP talks to a token ledger through a JSON gateway that
// exposes the standard metadata queries per ledger id.
type ledgerHTTP struct {
	endpoint string
	ledgerID string
	client   *http.Client
}

// NewLedgerDialer returns a dialer producing clients for the given
// gateway endpoint.
func NewLedgerDialer(endpoint string) LedgerDialer {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, ledgerID string) (LedgerClient, error) {
		if ledgerID == "" {
			return nil, fmt.Errorf("empty ledger id")
		}

		return &ledgerHTTP{
			endpoint: endpoint,
			ledgerID: ledgerID,
			client:   client,
		}, nil
	}
}

func (l *ledgerHTTP) query(ctx context.Context, method string) (gjson.Result, error) {
	u := l.endpoint + "/" + url.PathEscape(l.ledgerID) + "/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("ledger %s %s: status %d", l.ledgerID, method, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	return gjson.ParseBytes(b), nil
}

func (l *ledgerHTTP) Name(ctx context.Context) (string, error) {
	r, err := l.query(ctx, "name")
	if err != nil {
		return "", err
	}

	return r.Get("value").String(), nil
}

func (l *ledgerHTTP) Symbol(ctx context.Context) (string, error) {
	r, err := l.query(ctx, "symbol")
	if err != nil {
		return "", err
	}

	return r.Get("value").String(), nil
}

func (l *ledgerHTTP) Decimals(ctx context.Context) (uint8, error) {
	r, err := l.query(ctx, "decimals")
	if err != nil {
		return 0, err
	}

	return uint8(r.Get("value").Uint()), nil
}

func (l *ledgerHTTP) Fee(ctx context.Context) (Amount, error) {
	r, err := l.query(ctx, "fee")
	if err != nil {
		return 0, err
	}

	return Amount(r.Get("value").Uint()), nil
}

func (l *ledgerHTTP) Metadata(ctx context.Context) ([]MetadataEntry, error) {
	r, err := l.query(ctx, "metadata")
	if err != nil {
		return nil, err
	}

	var entries []MetadataEntry
	for _, item := range r.Get("value").Array() {
		pair := item.Array()
		if len(pair) != 2 {
			continue
		}

		entry := MetadataEntry{Key: pair[0].String()}
		value := pair[1]

		switch {
		case value.Get("Nat").Exists():
			entry.Value = MetadataValue{Kind: MetadataNat, Nat: Amount(value.Get("Nat").Uint())}
		case value.Get("Int").Exists():
			entry.Value = MetadataValue{Kind: MetadataInt, Int: value.Get("Int").Int()}
		case value.Get("Text").Exists():
			entry.Value = MetadataValue{Kind: MetadataText, Text: value.Get("Text").String()}
		case value.Get("Blob").Exists():
			entry.Value = MetadataValue{Kind: MetadataBlob, Blob: []byte(value.Get("Blob").String())}
		default:
			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (l *ledgerHTTP) Balance(ctx context.Context, owner string) (Amount, error) {
	r, err := l.query(ctx, "balance?owner="+url.QueryEscape(owner))
	if err != nil {
		return 0, err
	}

	return Amount(r.Get("value").Uint()), nil
}

func (l *ledgerHTTP) Transfer(ctx context.Context, to string, amount Amount) (uint64, error) {
	// Transfers need a signing wallet; the gateway only serves queries.
	return 0, fmt.Errorf("%w: ledger gateway is read-only", ErrTransferRejected)
}
