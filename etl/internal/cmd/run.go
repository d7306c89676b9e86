package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-etl/common/config"
	"github.com/telhawk-systems/telhawk-etl/common/logging"
	natsclient "github.com/telhawk-systems/telhawk-etl/common/messaging/nats"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/fetcher"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/ledger"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/notify"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/pipeline"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/runctx"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/runlock"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, runLog := logging.NewRunLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	rc, err := runctx.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithRunID(ctx, rc.ID())

	log := logger.With(logging.Service("etl"), logging.RunID(rc.ID()))
	log.Info("Starting ETL run",
		logging.Bucket(cfg.Storage.Bucket),
		logging.URL(cfg.Source.URL),
	)

	bucket, closeBucket, err := openBucket(ctx, cfg)
	if err != nil {
		log.Error("Failed to open storage backend", logging.Error(err))
		return err
	}
	defer closeBucket()

	gw := newGateway(bucket, cfg, log.Logger)
	src := fetcher.New(cfg.Source.URL, cfg.Source.Timeout, cfg.Retry.Attempts, cfg.Retry.BackoffBase(),
		fetcher.WithLogger(log.Logger),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Logger),
		pipeline.WithRunLog(runLog),
	}
	sinkOpts, closeSinks := openSinks(ctx, cfg, log)
	defer closeSinks()
	opts = append(opts, sinkOpts...)

	p := pipeline.New(pipeline.Config{
		Quantity:        cfg.Source.Quantity,
		PrimaryKey:      cfg.Storage.BlobName,
		LockName:        cfg.Storage.Bucket + "/" + gw.FullKey(cfg.Storage.BlobName),
		PushgatewayURL:  cfg.Metrics.PushgatewayURL,
		MetricsJob:      cfg.Metrics.Job,
		MetricsInstance: cfg.Storage.Bucket,
	}, rc, src, gw, opts...)

	_, err = p.Run(ctx)
	return err
}

// openSinks connects the optional lock, event and ledger backends. A backend
// that cannot be reached is skipped with a warning.
func openSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]pipeline.Option, func()) {
	var (
		opts    []pipeline.Option
		closers []func()
	)

	if cfg.Redis.Enabled {
		client, err := runlock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("Redis unavailable, running without output lock", logging.Error(err))
		} else {
			opts = append(opts, pipeline.WithLocker(runlock.NewRedisLocker(client, cfg.Redis.LockTTL)))
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Timeout = cfg.NATS.Timeout
		client, err := natsclient.NewClient(natsCfg)
		if err != nil {
			log.Warn("NATS unavailable, run events disabled", logging.Error(err))
		} else {
			opts = append(opts, pipeline.WithNotifier(notify.New(client)))
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	if cfg.Ledger.DatabaseURL != "" {
		if l := openLedger(ctx, cfg, log); l != nil {
			opts = append(opts, pipeline.WithLedger(l))
			closers = append(closers, l.Close)
		}
	}

	return opts, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func openLedger(ctx context.Context, cfg *config.Config, log *logging.Logger) *ledger.Postgres {
	if cfg.Ledger.Migrate {
		version, err := ledger.Migrate(cfg.Ledger.DatabaseURL)
		if err != nil {
			log.Warn("Ledger migrations failed, run ledger disabled", logging.Error(err))
			return nil
		}
		log.Info("Ledger migrations applied", "version", version)
	}

	l, err := ledger.NewPostgres(ctx, cfg.Ledger.DatabaseURL)
	if err != nil {
		log.Warn("Ledger unavailable, run ledger disabled", logging.Error(err))
		return nil
	}
	return l
}
