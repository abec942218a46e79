package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wmsinsight/wmsinsight/internal/config"
	"github.com/wmsinsight/wmsinsight/internal/demo/seed"
	"github.com/wmsinsight/wmsinsight/internal/observability"
	"github.com/wmsinsight/wmsinsight/internal/schema"
	s3store "github.com/wmsinsight/wmsinsight/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("wmsinsight-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, seedCfg.Timeout)
	defer cancel()

	catalog, err := schema.Default()
	if cfg.Schema.Path != "" {
		catalog, err = schema.LoadFile(cfg.Schema.Path)
	}
	if err != nil {
		logger.Error("failed to load schema catalog", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	service, err := seed.NewService(seedCfg, store, catalog, logger)
	if err != nil {
		logger.Error("failed to initialize seeder", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seeding demo warehouse",
		slog.String("bucket", cfg.ObjectStore.Bucket),
		slog.Int("products", seedCfg.Products),
		slog.Int("orders", seedCfg.Orders),
		slog.Int64("seed", seedCfg.Seed),
	)
	report, err := service.Run(ctx)
	if err != nil {
		logger.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seeding finished",
		slog.Any("uploaded", report.Uploaded),
		slog.Any("skipped", report.Skipped),
		slog.Int("snapshots", len(report.Snapshots)),
	)
}
