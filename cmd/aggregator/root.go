package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	"github.com/lvonguyen/cloudspend/internal/cache"
	"github.com/lvonguyen/cloudspend/internal/config"
	"github.com/lvonguyen/cloudspend/internal/ingest"
	"github.com/lvonguyen/cloudspend/internal/providers"
	"github.com/lvonguyen/cloudspend/internal/reporter"
	"github.com/lvonguyen/cloudspend/internal/store"
	"github.com/lvonguyen/cloudspend/internal/telemetry"
)

const serviceName = "cloudspend"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "aggregator",
	Short: "Import multi-cloud billing data and query grouped costs",
	Long: `aggregator imports cost and usage data from AWS, GCP and Azure integrations
and answers grouped cost queries over the normalized cost facts.

Examples:
  aggregator import --config configs/config.yaml
  aggregator costs --tenant 6f1c... --group-by service --order cost_desc
  aggregator summary --tenant 6f1c... --format html --save
  aggregator serve`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(importCmd, costsCmd, summaryCmd, serveCmd, hashPasswordCmd)
}

// app holds the wired components shared by the subcommands
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	engine     *aggregator.Engine
	dispatcher *ingest.Dispatcher
	reporter   *reporter.Reporter
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newApp loads config and connects the stores. Without a database DSN the
// in-memory store is used, which starts empty.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, reporter: reporter.New(cfg.Reporter)}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg.Telemetry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	type backend interface {
		ingest.Directory
		ingest.UsageWriter
		aggregator.FactReader
		aggregator.SubscriptionLister
	}
	var db backend
	if cfg.Database.DSN == "" {
		logger.Warn("No database configured, using the in-memory store")
		db = store.NewMemoryStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		logger.Info("PostgreSQL connected")
		db = store.NewPostgresStore(pool)
	}

	var facts aggregator.FactReader = db
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, cache reads will fall through", zap.Error(err))
		}
		facts = cache.New(db, rdb, cfg.Redis.TTL, logger)
	}

	a.engine = aggregator.New(facts, db)
	a.dispatcher = ingest.NewDispatcher(db, db, providers.NewDefaultRegistry(), ingest.Config{
		Workers:         cfg.Import.Workers,
		AdapterTimeout:  cfg.Import.AdapterTimeout,
		MaxAttempts:     cfg.Import.MaxAttempts,
		InitialBackoff:  cfg.Import.InitialBackoff,
		BreakerFailures: cfg.Import.BreakerFailures,
		BreakerCooldown: cfg.Import.BreakerCooldown,
	}, logger, otel.Tracer(serviceName))

	return a, nil
}
