package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"imgsearch/config"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/fetch"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/port"
)

// openStore builds the configured snapshot backend and loads the store.
// The returned close function releases backend resources.
func openStore(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (*store.VectorStore, func() error, error) {
	codec, err := store.NewCodec(cfg.Store.Codec, cfg.Store.Compress)
	if err != nil {
		return nil, nil, err
	}

	var (
		snap    port.Snapshotter
		closeFn = func() error { return nil }
	)
	switch cfg.Store.Backend {
	case "file":
		snap = store.NewFileSnapshotter(config.Resolve(dir, cfg.Store.Path))

	case "bolt":
		path := config.Resolve(dir, cfg.Store.BoltPath)
		if err := os.MkdirAll(config.StateDir(dir), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		b, err := store.OpenBolt(path)
		if err != nil {
			return nil, nil, err
		}
		if err := migrateBolt(b, cfg, logger); err != nil {
			b.Close()
			return nil, nil, err
		}
		snap, closeFn = b, b.Close

	case "minio":
		mc := cfg.Store.Minio
		client, err := store.NewMinioClient(mc.Endpoint, os.Getenv(mc.AccessKeyEnv), os.Getenv(mc.SecretKeyEnv), mc.UseSSL)
		if err != nil {
			return nil, nil, err
		}
		snap = store.NewMinioSnapshotter(client, mc.Bucket, mc.Key)

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}

	vs, err := store.Open(ctx, snap, codec, store.Options{
		Dimension: cfg.Embedding.Dimension,
		Logger:    logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return vs, closeFn, nil
}

func migrateBolt(b *store.BoltSnapshotter, cfg *config.Config, logger *slog.Logger) error {
	res, err := b.CheckMigration(cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	if res.NeedsRebuild {
		logger.Warn("stored vectors are stale, clearing", "reason", res.Reason)
		if err := b.Clear(); err != nil {
			return fmt.Errorf("failed to clear vectors: %w", err)
		}
	} else if res.NeedsMigration {
		logger.Info("running schema migration", "reason", res.Reason)
	}
	if res.NeedsRebuild || res.NeedsMigration {
		if err := b.Migrate(cfg); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func newExtractor(cfg *config.Config) (port.Extractor, error) {
	switch cfg.Embedding.Provider {
	case "mock":
		return embedding.NewMockExtractor(cfg.Embedding.Dimension), nil
	case "http", "":
		return embedding.NewHTTPExtractor(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func newAdapter(cfg *config.Config, logger *slog.Logger) (*embedding.Adapter, error) {
	ex, err := newExtractor(cfg)
	if err != nil {
		return nil, err
	}
	return embedding.NewAdapter(ex,
		embedding.WithDimension(cfg.Embedding.Dimension),
		embedding.WithPooling(cfg.Embedding.Pooling),
		embedding.WithNormalize(cfg.Embedding.Normalize),
		embedding.WithAdapterLogger(logger),
	), nil
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *fetch.HTTPFetcher {
	return fetch.NewHTTPFetcher(
		fetch.WithAttempts(cfg.Fetch.Attempts),
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithBackoff(cfg.Fetch.Backoff),
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithRateLimit(cfg.Fetch.RequestsPerSecond),
		fetch.WithLogger(logger),
	)
}
