package tipio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

const tokenCacheTTL = time.Hour

// Registry caches token metadata per ledger id, backed by badger so
// entries survive restarts. It is built once at startup and handed to
// consumers; tests get their own isolated instances.
type Registry struct {
	db   *badger.DB
	dial LedgerDialer
	ttl  time.Duration
	now  func() time.Time

	mu     sync.Mutex
	tokens map[string]*TokenMetadata

	sf singleflight.Group
}

func NewRegistry(db *badger.DB, dial LedgerDialer) *Registry {
	r := &Registry{
		db:     db,
		dial:   dial,
		ttl:    tokenCacheTTL,
		now:    time.Now,
		tokens: map[string]*TokenMetadata{},
	}

	r.loadFromStore()
	return r
}

// The persisted store is the source of truth at startup; in-memory
// writes are the authority afterwards.
func (r *Registry) loadFromStore() {
	tokens, err := ListTokens(r.db)
	if err != nil {
		slog.Error("load token registry failed", slog.Any("err", err))
		return
	}

	for _, token := range tokens {
		normalizeMetadata(token)
		r.tokens[token.LedgerID] = token
	}
}

// normalizeMetadata restores oversized-integer metadata values that
// were persisted as decimal strings. Only numeric strings under keys
// mentioning "fee" are promoted back.
func normalizeMetadata(token *TokenMetadata) {
	for k, v := range token.Metadata {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}

		if strings.Contains(k, "fee") && govalidator.IsNumeric(s) {
			var a Amount
			if err := a.UnmarshalJSON([]byte(s)); err == nil {
				token.Metadata[k] = a
			}
		}
	}
}

// GetToken returns cached metadata when fetched within the TTL,
// fetching fresh data otherwise. Concurrent fetches for the same
// ledger collapse into one call. When the fetch fails and a stale
// entry exists, the stale entry is returned instead of the error.
func (r *Registry) GetToken(ctx context.Context, ledgerID string) (*TokenMetadata, error) {
	r.mu.Lock()
	cached, ok := r.tokens[ledgerID]
	r.mu.Unlock()

	if ok && r.now().Sub(cached.FetchedAt) < r.ttl {
		return cached, nil
	}

	token, err := r.fetch(ctx, ledgerID)
	if err != nil {
		if ok {
			slog.Warn("token metadata refresh failed, serving stale entry",
				"ledger", ledgerID, "err", err)
			return cached, nil
		}

		return nil, err
	}

	return token, nil
}

func (r *Registry) fetch(ctx context.Context, ledgerID string) (*TokenMetadata, error) {
	v, err, _ := r.sf.Do(ledgerID, func() (interface{}, error) {
		ledger, err := r.dial(ctx, ledgerID)
		if err != nil {
			return nil, &MetadataFetchError{LedgerID: ledgerID, Err: err}
		}

		token, err := FetchTokenMetadata(ctx, ledger, ledgerID)
		if err != nil {
			return nil, err
		}

		token.FetchedAt = r.now()
		if err := r.put(token); err != nil {
			return nil, err
		}

		return token, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*TokenMetadata), nil
}

// AddToken inserts or overwrites an entry without fetching, for
// manual bootstrapping. Persisted immediately.
func (r *Registry) AddToken(ledgerID string, token *TokenMetadata) error {
	token.LedgerID = ledgerID
	if token.FetchedAt.IsZero() {
		token.FetchedAt = r.now()
	}

	return r.put(token)
}

func (r *Registry) put(token *TokenMetadata) error {
	if err := r.db.Update(func(txn *badger.Txn) error {
		return saveToken(txn, token)
	}); err != nil {
		return err
	}

	r.mu.Lock()
	r.tokens[token.LedgerID] = token
	r.mu.Unlock()

	return nil
}

// AllTokens returns the current in-memory set, in no particular order.
func (r *Registry) AllTokens() []*TokenMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := make([]*TokenMetadata, 0, len(r.tokens))
	for _, token := range r.tokens {
		tokens = append(tokens, token)
	}

	return tokens
}

// TokenBySymbol scans the registry for a symbol match.
func (r *Registry) TokenBySymbol(symbol string) (*TokenMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range r.tokens {
		if token.Symbol == symbol {
			return token, true
		}
	}

	return nil, false
}

// Refresh evicts the entry and re-fetches unconditionally.
func (r *Registry) Refresh(ctx context.Context, ledgerID string) (*TokenMetadata, error) {
	r.mu.Lock()
	delete(r.tokens, ledgerID)
	r.mu.Unlock()

	if err := r.db.Update(func(txn *badger.Txn) error {
		return deleteToken(txn, ledgerID)
	}); err != nil {
		return nil, err
	}

	return r.fetch(ctx, ledgerID)
}

// ClearCache empties the registry and drops the persisted copy.
func (r *Registry) ClearCache() error {
	r.mu.Lock()
	r.tokens = map[string]*TokenMetadata{}
	r.mu.Unlock()

	return r.db.DropPrefix(tokenPrefix)
}

// Bootstrap warms the registry with the supported ledger whitelist.
// Individual failures are tolerated.
func (r *Registry) Bootstrap(ctx context.Context, ledgerIDs []string) {
	for _, id := range ledgerIDs {
		if _, err := r.GetToken(ctx, id); err != nil {
			slog.Warn("bootstrap token failed", "ledger", id, "err", err)
		}
	}
}
