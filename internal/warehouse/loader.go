package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wmsinsight/wmsinsight/internal/schema"
	"github.com/wmsinsight/wmsinsight/internal/storage"
)

// Loader copies each catalog table's parquet source out of the object store
// and defines a DuckDB view over it under the table's name.
type Loader struct {
	DB      *sql.DB
	Store   storage.ObjectStore
	Catalog *schema.Catalog
	// Concurrency bounds parallel downloads.
	Concurrency int
	// Materialize copies each source into a table instead of defining a view
	// over the downloaded file, so the database no longer needs file access
	// once loading is done.
	Materialize bool
	Logger      *slog.Logger
}

type LoadReport struct {
	Loaded  []string
	Missing []string
}

// LoadViews downloads into dir and replaces the views. Tables whose source
// object does not exist yet are reported as missing, not failed.
func (l *Loader) LoadViews(ctx context.Context, dir string) (LoadReport, error) {
	if l.DB == nil || l.Store == nil || l.Catalog == nil {
		return LoadReport{}, fmt.Errorf("db, object store and catalog are required")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return LoadReport{}, fmt.Errorf("create view dir: %w", err)
	}

	tables := make([]schema.Table, 0)
	for _, table := range l.Catalog.Tables() {
		if strings.TrimSpace(table.Source) != "" {
			tables = append(tables, table)
		}
	}

	localPaths := make([]string, len(tables))
	missing := make([]bool, len(tables))
	group, groupCtx := errgroup.WithContext(ctx)
	if l.Concurrency > 0 {
		group.SetLimit(l.Concurrency)
	} else {
		group.SetLimit(4)
	}
	for index, table := range tables {
		group.Go(func() error {
			localPath := filepath.Join(dir, table.Name+".parquet")
			err := l.download(groupCtx, table.Source, localPath)
			switch {
			case errors.Is(err, storage.ErrObjectNotFound):
				missing[index] = true
				return nil
			case err != nil:
				return fmt.Errorf("load table %q: %w", table.Name, err)
			}
			localPaths[index] = localPath
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return LoadReport{}, err
	}

	var report LoadReport
	for index, table := range tables {
		if missing[index] {
			logger.WarnContext(ctx, "warehouse source missing", slog.String("table", table.Name), slog.String("source", table.Source))
			report.Missing = append(report.Missing, table.Name)
			continue
		}
		kind := "VIEW"
		if l.Materialize {
			kind = "TABLE"
		}
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE %s %s AS SELECT * FROM read_parquet(%s)`, kind, quoteIdent(table.Name), quoteString(localPaths[index]))
		if _, err := l.DB.ExecContext(ctx, viewSQL); err != nil {
			return LoadReport{}, fmt.Errorf("create view for table %q: %w", table.Name, err)
		}
		report.Loaded = append(report.Loaded, table.Name)
	}
	logger.InfoContext(ctx, "warehouse views loaded", slog.Int("loaded", len(report.Loaded)), slog.Int("missing", len(report.Missing)))
	return report, nil
}

func (l *Loader) download(ctx context.Context, key, localPath string) error {
	reader, err := l.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	return nil
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	return copyAndClose(file, reader)
}

// copyAndClose reports a failed Close, which is where buffered write errors
// surface on some filesystems.
func copyAndClose(dst io.WriteCloser, src io.Reader) error {
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
