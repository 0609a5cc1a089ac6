package tipio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/yiplee/go-cache"
)

const (
	priceRefreshInterval = 30 * time.Second

	// minDisplayUSD is the cutoff below which USD values render with
	// extra decimals.
	minDisplayUSD = 0.01

	// stableSymbol is pegged to $1 and never fetched.
	stableSymbol = "ckUSDC"
)

// PriceSource fetches USD spot prices for a set of symbols. Partial
// results are fine; missing symbols just stay unpriced.
type PriceSource interface {
	Fetch(ctx context.Context, symbols []string) (map[string]float64, error)
}

// CoinGeckoSource reads spot prices from the CoinGecko simple/price
// endpoint.
type CoinGeckoSource struct {
	Endpoint string
	Client   *http.Client

	// IDs maps token symbols to CoinGecko coin ids.
	IDs map[string]string
}

func NewCoinGeckoSource() *CoinGeckoSource {
	return &CoinGeckoSource{
		Endpoint: "https://api.coingecko.com/api/v3/simple/price",
		Client:   &http.Client{Timeout: 10 * time.Second},
		IDs: map[string]string{
			"ICP":   "internet-computer",
			"ckBTC": "bitcoin",
		},
	}
}

func (s *CoinGeckoSource) Fetch(ctx context.Context, symbols []string) (map[string]float64, error) {
	var ids []string
	for _, symbol := range symbols {
		if id, ok := s.IDs[symbol]; ok {
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	u := s.Endpoint + "?ids=" + url.QueryEscape(strings.Join(ids, ",")) + "&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	prices := map[string]float64{}
	for symbol, id := range s.IDs {
		if v := gjson.GetBytes(body, id+".usd"); v.Exists() {
			prices[symbol] = v.Float()
		}
	}

	return prices, nil
}

// PriceBook keeps the latest spot prices and layers USD values on top
// of token amounts for display.
type PriceBook struct {
	source   PriceSource
	symbols  []string
	interval time.Duration

	prices *cache.Cache[string, float64]
}

func NewPriceBook(source PriceSource, symbols []string) *PriceBook {
	return &PriceBook{
		source:   source,
		symbols:  symbols,
		interval: priceRefreshInterval,
		prices:   cache.New[string, float64](),
	}
}

// Run refreshes spot prices until the context is cancelled. A failed
// cycle keeps the last known prices.
func (b *PriceBook) Run(ctx context.Context) error {
	for {
		if err := b.RefreshNow(ctx); err != nil {
			slog.Warn("price refresh failed", slog.Any("err", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.interval):
		}
	}
}

func (b *PriceBook) RefreshNow(ctx context.Context) error {
	prices, err := b.source.Fetch(ctx, b.symbols)
	if err != nil {
		return err
	}

	for symbol, price := range prices {
		if symbol == stableSymbol {
			continue
		}

		b.prices.Set(symbol, price)
	}

	return nil
}

// Price returns the cached USD spot price for a symbol.
func (b *PriceBook) Price(symbol string) (float64, bool) {
	if symbol == stableSymbol {
		return 1.0, true
	}

	return b.prices.Get(symbol)
}

// Snapshot returns the current price per tracked symbol.
func (b *PriceBook) Snapshot() map[string]float64 {
	out := map[string]float64{stableSymbol: 1.0}
	for _, symbol := range b.symbols {
		if price, ok := b.Price(symbol); ok {
			out[symbol] = price
		}
	}

	return out
}

// USDValue converts a base-unit amount to USD. Integer fee arithmetic
// is done well before this point; the float conversion here is for
// display only.
func (b *PriceBook) USDValue(amount Amount, decimals int, symbol string) float64 {
	price, ok := b.Price(symbol)
	if !ok || amount == 0 {
		return 0
	}

	d := amount.decimal().Shift(int32(-decimals))
	return d.InexactFloat64() * price
}

// FormatUSD renders a USD value for display. Zero is "$0.00"; values
// under a cent get up to four decimals; trailing zeroes trim away,
// falling back to "$0.00" when nothing is left.
func FormatUSD(value float64) string {
	if value <= 0 {
		return "$0.00"
	}

	digits := 2
	if value < minDisplayUSD {
		digits = 4
	}

	s := strconv.FormatFloat(value, 'f', digits, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")

	if s == "0" || s == "" {
		return "$0.00"
	}

	return "$" + s
}
