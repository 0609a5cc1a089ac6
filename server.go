package tipio

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Username  string
	Issuer    string
	FeePolicy FeePolicy

	// SupportedLedgers is the whitelist warmed into the registry at
	// startup.
	SupportedLedgers []string
}

type Server struct {
	db       *badger.DB
	backend  BackendClient
	registry *Registry
	prices   *PriceBook
	agg      *Aggregator

	withdrawer *Withdrawer
	cfg        Config
}

func NewServer(
	db *badger.DB,
	backend BackendClient,
	registry *Registry,
	prices *PriceBook,
	wallet Wallet,
	cfg Config,
) Server {
	agg := NewAggregator(backend, cfg.Username)

	return Server{
		db:         db,
		backend:    backend,
		registry:   registry,
		prices:     prices,
		agg:        agg,
		withdrawer: NewWithdrawer(backend, registry, wallet, cfg.FeePolicy, db, agg),
		cfg:        cfg,
	}
}

func (s *Server) Run(ctx context.Context) error {
	s.registry.Bootstrap(ctx, s.cfg.SupportedLedgers)

	var g errgroup.Group

	g.Go(func() error {
		return s.agg.Run(ctx)
	})

	g.Go(func() error {
		return s.prices.Run(ctx)
	})

	return g.Wait()
}
