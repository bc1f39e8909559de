package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammLedger/internal/amm"
	"ammLedger/internal/config"
	"ammLedger/internal/ledger"
	"ammLedger/internal/metrics"
	"ammLedger/internal/storage"
	"ammLedger/internal/storage/postgres"
)

// backend is an engine bound to the configured ledger and journals.
type backend struct {
	engine *amm.Engine
	pg     *postgres.Store
	logger *zap.Logger
}

func openBackend(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*backend, error) {
	b := &backend{logger: logger}

	var (
		store    amm.Store
		journals storage.Multi
	)
	switch cfg.Store {
	case config.StoreMemory:
		store = ledger.New(logger)
	case config.StoreFile:
		l, err := ledger.Open(cfg.StateFile, logger)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		store = l
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		b.pg = pg
		store = pg
		journals = append(journals, pg)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.Journal != "" {
		journals = append(journals, storage.NewJsonlStorage(cfg.Journal))
	}

	engineCfg := amm.Config{}
	if len(journals) > 0 {
		engineCfg.Journal = journals
	}
	if reg != nil {
		engineCfg.Metrics = metrics.NewMetrics(reg)
	}
	b.engine = amm.NewEngine(engineCfg, store, logger)
	return b, nil
}

func (b *backend) Close() {
	if b.pg != nil {
		b.pg.Close()
	}
	_ = b.logger.Sync()
}

// setup loads the shared config and opens the backend for one command run.
func setup(cmd *cobra.Command) (config.Config, *backend, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	b, err := openBackend(cmd.Context(), cfg, nil, logger)
	if err != nil {
		_ = logger.Sync()
		return config.Config{}, nil, err
	}
	return cfg, b, nil
}
