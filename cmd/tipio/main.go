package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	backend "github.com/tipio-app/tipio"
	"golang.org/x/sync/errgroup"
)

var cfg struct {
	dbPath          string
	port            int
	username        string
	issuer          string
	backendURL      string
	backendToken    string
	ledgerGateway   string
	walletBridge    string
	supportedTokens string
	platformFeePct  uint64
	minFeeMultiple  uint64
}

func init() {
	flag.StringVar(&cfg.dbPath, "db", "tipio.db", "database path")
	flag.IntVar(&cfg.port, "port", 8080, "http port")
	flag.StringVar(&cfg.username, "username", "", "creator username to aggregate")
	flag.StringVar(&cfg.issuer, "issuer", "tipio", "jwt issuer")
	flag.StringVar(&cfg.backendURL, "backend", "http://127.0.0.1:4943", "tip backend endpoint")
	flag.StringVar(&cfg.backendToken, "token", "", "backend access token")
	flag.StringVar(&cfg.ledgerGateway, "gateway", "http://127.0.0.1:8090", "ledger gateway endpoint")
	flag.StringVar(&cfg.walletBridge, "wallet", "http://127.0.0.1:8091", "wallet bridge endpoint")
	flag.StringVar(&cfg.supportedTokens, "tokens", strings.Join([]string{
		"ryjl3-tyaaa-aaaaa-aaaba-cai",
		"mxzaz-hqaaa-aaaar-qaada-cai",
		"xevnm-gaaaa-aaaar-qafnq-cai",
	}, ","), "supported ledger ids, comma separated")
	flag.Uint64Var(&cfg.platformFeePct, "fee", 2, "platform fee percent")
	flag.Uint64Var(&cfg.minFeeMultiple, "min-fee-multiple", 5, "minimum amount as a multiple of the ledger fee")

	flag.Parse()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	db, err := badger.Open(badger.DefaultOptions(cfg.dbPath))
	if err != nil {
		slog.Error("open db failed", slog.Any("err", err))
		return
	}

	slog.Info("tipio launch", "ver", "0.1")

	client := backend.NewBackendClient(cfg.backendURL, cfg.backendToken)
	registry := backend.NewRegistry(db, backend.NewLedgerDialer(cfg.ledgerGateway))
	prices := backend.NewPriceBook(backend.NewCoinGeckoSource(), []string{"ICP", "ckBTC", "ckUSDC"})

	wallet := backend.NewWalletBridge(cfg.walletBridge)

	svr := backend.NewServer(db, client, registry, prices, wallet, backend.Config{
		Username: cfg.username,
		Issuer:   cfg.issuer,
		FeePolicy: backend.FeePolicy{
			PlatformFeePercent: cfg.platformFeePct,
			MinFeeMultiple:     cfg.minFeeMultiple,
		},
		SupportedLedgers: strings.Split(cfg.supportedTokens, ","),
	})

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.port),
		Handler: svr.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", slog.String("addr", s.Addr))
		return s.ListenAndServe()
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.Shutdown(ctx)
	})

	g.Go(func() error {
		return runGC(ctx, db, time.Minute)
	})

	g.Go(func() error {
		return svr.Run(ctx)
	})

	_ = g.Wait()
}

func runGC(ctx context.Context, db *badger.DB, dur time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			_ = db.RunValueLogGC(0.7)
		}
	}
}
