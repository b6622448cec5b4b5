package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"positionScope/internal/config"
	"positionScope/internal/position"
	"positionScope/internal/price"
	"positionScope/internal/storage/memory"
	"positionScope/internal/storage/postgres"
	"positionScope/internal/storage/sqlite"
	"positionScope/internal/tracker"
)

// entityStore is what the track command needs from a backend.
type entityStore interface {
	position.Store
	tracker.MetaStore
}

func runTrack(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadTrack(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	prices, closePrices, err := openPrices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePrices()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := position.NewEngine(ctx, position.Config{Registry: registry}, store, logger)
	if err != nil {
		return err
	}

	t, err := tracker.New(tracker.Config{Strict: cfg.Strict}, engine, store, prices, logger)
	if err != nil {
		return err
	}

	logger.Info("track start",
		zap.String("in", cfg.In),
		zap.String("store", cfg.Store),
		zap.Int("static_prices", len(cfg.Prices)),
		zap.Bool("redis_prices", cfg.RedisAddr != ""),
		zap.Bool("strict", cfg.Strict),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux(registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		// Replay finishing stops the metrics server.
		defer cancel()
		_, err := t.Run(gctx, cfg.In)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	protocol := engine.Protocol()
	logger.Info("protocol counters",
		zap.Uint64("open_positions", protocol.OpenPositionCount),
		zap.Uint64("cumulative_positions", protocol.CumulativePositionCount),
	)
	return nil
}

func openStore(ctx context.Context, cfg config.TrackConfig) (entityStore, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Migrate {
			if err := store.RunMigrations(ctx); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, store.Close, nil
	case config.StoreSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.StoreMemory:
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// openPrices chains the redis cache ahead of the static table so live prices
// win when both know a token.
func openPrices(ctx context.Context, cfg config.TrackConfig) (price.Source, func(), error) {
	var chain price.Chain
	closeFn := func() {}

	if cfg.RedisAddr != "" {
		src, err := price.NewRedisSource(ctx, price.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, src)
		closeFn = func() { _ = src.Close() }
	}

	if len(cfg.Prices) > 0 {
		src, err := price.NewStaticSource(cfg.Prices)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		chain = append(chain, src)
	}
	return chain, closeFn, nil
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
