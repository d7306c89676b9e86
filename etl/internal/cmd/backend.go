package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/telhawk-etl/common/config"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/retry"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/storage"
)

// openBucket connects to the configured storage backend. The returned close
// func is always safe to call.
func openBucket(ctx context.Context, cfg *config.Config) (storage.Bucket, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case config.BackendGCS:
		b, err := storage.NewGCSBucket(ctx, cfg.Storage.Bucket, storage.GCSOptions{
			CredentialsFile: cfg.Storage.GCS.CredentialsFile,
			Anonymous:       cfg.Storage.GCS.Anonymous,
		})
		if err != nil {
			return nil, noop, err
		}
		return b, func() { _ = b.Close() }, nil

	case config.BackendMinIO:
		b, err := storage.NewMinIOBucket(cfg.Storage.Bucket, storage.MinIOOptions{
			Endpoint:  cfg.Storage.MinIO.Endpoint,
			AccessKey: cfg.Storage.MinIO.AccessKey,
			SecretKey: cfg.Storage.MinIO.SecretKey,
			UseSSL:    cfg.Storage.MinIO.UseSSL,
			Region:    cfg.Storage.MinIO.Region,
		})
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil

	case config.BackendMemory:
		return storage.NewMemoryBucket(cfg.Storage.Bucket), noop, nil
	}

	return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func newGateway(bucket storage.Bucket, cfg *config.Config, logger *slog.Logger) *storage.Gateway {
	return storage.NewGateway(bucket, cfg.Storage.Prefix,
		storage.WithRetry(retry.New(cfg.Retry.Attempts, cfg.Retry.BackoffBase())),
		storage.WithStagingDir(cfg.Storage.StagingDir),
		storage.WithLogger(logger),
	)
}
