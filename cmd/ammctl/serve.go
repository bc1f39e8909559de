package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammLedger/internal/config"
	"ammLedger/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pool API over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().Bool("dev-routes", false, "enable the /dev/faucet route")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	cmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins (comma-separated, * for any)")
	cmd.Flags().String("rpc", "", "RPC URL for on-chain quotes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServer(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b, err := openBackend(cmd.Context(), cfg.Config, reg, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	defer b.Close()

	opts := server.Options{
		DevRoutes:          cfg.DevRoutes,
		CORSOrigins:        cfg.CORSOrigins,
		DefaultSlippageBps: cfg.SlippageBps,
		Gatherer:           reg,
	}
	if cfg.RPCURL != "" {
		quoter, closeQuoter, err := newQuoter(cmd, cfg.RPCURL, logger)
		if err != nil {
			return err
		}
		defer closeQuoter()
		opts.Quoter = quoter
	}
	srv := server.New(b.engine, opts, logger)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	logger.Info("server start",
		zap.String("listen", ln.Addr().String()),
		zap.String("store", cfg.Store),
		zap.String("journal", cfg.Journal),
		zap.Bool("dev_routes", cfg.DevRoutes),
		zap.Bool("onchain_quotes", opts.Quoter != nil),
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}
