package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wmsinsight/wmsinsight/internal/api"
	"github.com/wmsinsight/wmsinsight/internal/audit"
	"github.com/wmsinsight/wmsinsight/internal/config"
	"github.com/wmsinsight/wmsinsight/internal/engine"
	"github.com/wmsinsight/wmsinsight/internal/grants"
	"github.com/wmsinsight/wmsinsight/internal/nl2sql"
	"github.com/wmsinsight/wmsinsight/internal/observability"
	"github.com/wmsinsight/wmsinsight/internal/policy"
	"github.com/wmsinsight/wmsinsight/internal/query/sqldb"
	"github.com/wmsinsight/wmsinsight/internal/schema"
	s3store "github.com/wmsinsight/wmsinsight/internal/storage/s3"
	"github.com/wmsinsight/wmsinsight/internal/warehouse"
)

func main() {
	cfg, err := config.LoadFromEnv("wmsinsight-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	warehouseCfg := warehouse.Config{
		Driver:          cfg.Warehouse.Driver,
		DSN:             cfg.Warehouse.DSN,
		ReadOnly:        cfg.Warehouse.ReadOnly,
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	}
	warehouseDB, err := warehouse.Open(ctx, warehouseCfg)
	if err != nil {
		return err
	}
	defer func() { _ = warehouseDB.Close() }()

	if cfg.Warehouse.LoadViews {
		if err := loadViews(ctx, cfg, warehouseDB, catalog, warehouseCfg.InMemory(), logger); err != nil {
			return err
		}
	}
	if warehouseCfg.InMemory() {
		if err := warehouse.Lockdown(ctx, warehouseDB); err != nil {
			return err
		}
		logger.Info("in-memory warehouse locked down", slog.Bool("external_access", false))
	}

	executor, err := sqldb.NewEngine(warehouseDB, sqldb.Options{
		Timeout:  cfg.Warehouse.QueryTimeout,
		RowLimit: cfg.Policy.MaxRows,
	})
	if err != nil {
		return err
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	translator, err := nl2sql.NewTranslator(catalog, backend, nl2sql.Options{
		Dialect: warehouseCfg.Dialect(),
		MaxRows: cfg.Policy.MaxRows,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	validator, err := policy.NewValidator(catalog, policy.Config{
		MaxRows:         cfg.Policy.MaxRows,
		DeniedFunctions: cfg.Policy.DeniedFunctions,
	})
	if err != nil {
		return err
	}

	resolver, err := grants.NewStaticResolver(cfg.Grants.Static)
	if err != nil {
		return fmt.Errorf("parse grants: %w", err)
	}
	if cfg.Grants.RequireKnown {
		resolver.WithFallback(grants.NewTableSet())
	}
	if err := resolver.Validate(catalog); err != nil {
		return fmt.Errorf("validate grants: %w", err)
	}

	sink, auditDB, err := newAuditSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if auditDB != nil {
		defer func() { _ = auditDB.Close() }()
	}

	service, err := engine.NewService(translator, validator, executor, engine.Options{
		ServerCredential:   cfg.Translator.APIKey,
		TranslationTimeout: cfg.Translator.Timeout,
		Grants:             resolver,
		Audit:              sink,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	readiness := []api.ReadinessCheck{api.CheckPing("warehouse", warehouseDB)}
	if auditDB != nil {
		readiness = append(readiness, api.CheckPing("audit db", auditDB))
	}
	if cfg.Warehouse.LoadViews {
		readiness = append(readiness, api.CheckObjectStoreConfig(cfg))
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Queries:           service,
		Catalog:           catalog,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("warehouse", cfg.Warehouse.Driver),
			slog.String("translator", cfg.Translator.Backend),
			slog.String("audit_sink", cfg.Audit.Sink),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func loadCatalog(cfg config.Config) (*schema.Catalog, error) {
	if cfg.Schema.Path == "" {
		return schema.Default()
	}
	catalog, err := schema.LoadFile(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("load schema catalog: %w", err)
	}
	return catalog, nil
}

func loadViews(ctx context.Context, cfg config.Config, db *sql.DB, catalog *schema.Catalog, materialize bool, logger *slog.Logger) error {
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
		return fmt.Errorf("initialize object store: %w", err)
	}

	dir := cfg.Warehouse.ViewsDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "wmsinsight-views")
	}
	loader := &warehouse.Loader{
		DB:          db,
		Store:       store,
		Catalog:     catalog,
		Concurrency: cfg.Warehouse.LoadConcurrency,
		Materialize: materialize,
		Logger:      logger,
	}
	report, err := loader.LoadViews(ctx, dir)
	if err != nil {
		return err
	}
	observability.SetWarehouseViews(len(report.Loaded), len(report.Missing))
	logger.Info("warehouse views loaded",
		slog.Any("loaded", report.Loaded),
		slog.Any("missing", report.Missing),
	)
	return nil
}

func newBackend(cfg config.Config) (nl2sql.Backend, error) {
	switch cfg.Translator.Backend {
	case config.TranslatorOpenAI:
		backend, err := nl2sql.NewOpenAIBackend(nl2sql.OpenAIConfig{
			BaseURL:     cfg.Translator.BaseURL,
			Model:       cfg.Translator.Model,
			Temperature: float32(cfg.Translator.Temperature),
			MaxTokens:   cfg.Translator.MaxTokens,
			Timeout:     cfg.Translator.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize openai backend: %w", err)
		}
		return backend, nil
	default:
		return nl2sql.NewRuleBackend(), nil
	}
}

// newAuditSink returns the database handle too so the caller can close it
// and probe it for readiness.
func newAuditSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (audit.Sink, *sql.DB, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkNone:
		return audit.NopSink{}, nil, nil
	case config.AuditSinkPostgres:
		db, err := audit.OpenDB(ctx, audit.DBConfig{
			DSN:          cfg.Audit.DSN,
			MaxOpenConns: cfg.Audit.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return audit.MultiSink{audit.LogSink{Logger: logger}, audit.NewPostgresSink(db)}, db, nil
	default:
		return audit.LogSink{Logger: logger}, nil, nil
	}
}
