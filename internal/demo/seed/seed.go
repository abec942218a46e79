// Package seed writes a deterministic demo warehouse into the object store
// so the query service has parquet sources to load.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/wmsinsight/wmsinsight/internal/schema"
	"github.com/wmsinsight/wmsinsight/internal/storage"
	"github.com/wmsinsight/wmsinsight/internal/storage/s3"
)

type Service struct {
	cfg       Config
	log       *slog.Logger
	store     storage.ObjectStore
	catalog   *schema.Catalog
	generator *Generator
	now       func() time.Time
}

type Report struct {
	Uploaded  []string
	Skipped   []string
	Snapshots []string
	Rows      map[string]int
}

func NewService(cfg Config, store storage.ObjectStore, catalog *schema.Catalog, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:       cfg,
		log:       logger,
		store:     store,
		catalog:   catalog,
		generator: NewGenerator(cfg),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run generates the dataset once and uploads one parquet object per catalog
// table that declares a source. Tables without a generator are skipped.
func (s *Service) Run(ctx context.Context) (Report, error) {
	dataset := s.generator.Generate()
	encoders := map[string]func() ([]byte, int, error){
		"products":   func() ([]byte, int, error) { return encode(dataset.Products) },
		"orders":     func() ([]byte, int, error) { return encode(dataset.Orders) },
		"sales_data": func() ([]byte, int, error) { return encode(dataset.Sales) },
	}

	report := Report{Rows: map[string]int{}}
	for _, table := range s.catalog.Tables() {
		if table.Source == "" {
			continue
		}
		encodeTable, ok := encoders[table.Name]
		if !ok {
			s.log.Warn("no demo generator for table", slog.String("table", table.Name))
			report.Skipped = append(report.Skipped, table.Name)
			continue
		}

		if s.cfg.SkipExisting {
			exists, err := s.exists(ctx, table.Source)
			if err != nil {
				return report, err
			}
			if exists {
				s.log.Info("source already present", slog.String("table", table.Name), slog.String("key", table.Source))
				report.Skipped = append(report.Skipped, table.Name)
				continue
			}
		}

		payload, rows, err := encodeTable()
		if err != nil {
			return report, fmt.Errorf("encode %s: %w", table.Name, err)
		}
		if err := s.put(ctx, table.Source, payload); err != nil {
			return report, fmt.Errorf("upload %s: %w", table.Name, err)
		}
		report.Uploaded = append(report.Uploaded, table.Name)
		report.Rows[table.Name] = rows
		s.log.Info("uploaded demo table",
			slog.String("table", table.Name),
			slog.String("key", table.Source),
			slog.Int("rows", rows),
			slog.Int("bytes", len(payload)),
		)

		if s.cfg.Snapshot {
			key, err := storage.SnapshotObjectKey(table.Name, s.now())
			if err != nil {
				return report, err
			}
			if err := s.put(ctx, key, payload); err != nil {
				return report, fmt.Errorf("snapshot %s: %w", table.Name, err)
			}
			report.Snapshots = append(report.Snapshots, key)
		}
	}
	return report, nil
}

func (s *Service) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.store.Stat(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
}

func (s *Service) put(ctx context.Context, key string, payload []byte) error {
	_, err := s.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: s3.ContentTypeParquet})
	return err
}

func encode[T any](rows []T) ([]byte, int, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, 0, err
	}
	if err := writer.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), len(rows), nil
}
