package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/schema"
	"github.com/wmsinsight/wmsinsight/internal/sqltext"
)

type Options struct {
	// Dialect is named in model prompts, e.g. "DuckDB" or "PostgreSQL".
	Dialect string
	MaxRows int
	Logger  *slog.Logger
}

// Translator wraps a Backend with schema resolution before the call and a
// safety gate after it. Backend output that fails the gate never reaches the
// validator.
type Translator struct {
	catalog *schema.Catalog
	backend Backend
	dialect string
	maxRows int
	logger  *slog.Logger
}

func NewTranslator(catalog *schema.Catalog, backend Backend, opts Options) (*Translator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("translation backend is required")
	}
	dialect := strings.TrimSpace(opts.Dialect)
	if dialect == "" {
		dialect = "DuckDB"
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Translator{catalog: catalog, backend: backend, dialect: dialect, maxRows: maxRows, logger: logger}, nil
}

func (t *Translator) Translate(ctx context.Context, question, credential string) (CandidateQuery, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return CandidateQuery{}, failure.InvalidRequest("question is required")
	}

	if !LooksLikeSQL(question) {
		resolution := t.catalog.ResolveQuestion(question)
		if len(resolution.References) == 0 {
			return CandidateQuery{}, failure.Unresolvable(resolution.Unresolved)
		}
	}

	sql, err := t.backend.GenerateSQL(ctx, Request{
		Question:   question,
		Catalog:    t.catalog,
		Credential: credential,
		Dialect:    t.dialect,
		MaxRows:    t.maxRows,
	})
	if err != nil {
		return CandidateQuery{}, t.classify(ctx, err)
	}

	analysis, err := Gate(sql)
	if err != nil {
		t.logger.Warn("rejected generated statement", "reason", err.Error())
		return CandidateQuery{}, err
	}

	candidate := CandidateQuery{
		SQL:     strings.TrimSpace(sql),
		Tables:  analysis.TableNames(),
		Columns: analysis.QualifiedColumns(t.catalog.HasColumn),
	}
	t.logger.Debug("translated question", "tables", candidate.Tables, "columns", len(candidate.Columns))
	return candidate, nil
}

func (t *Translator) classify(ctx context.Context, err error) error {
	var typed *failure.Error
	switch {
	case errors.As(err, &typed):
		return typed
	case errors.Is(err, ErrCredentialRequired):
		return failure.InvalidRequest("a model credential is required for translation")
	case errors.Is(ctx.Err(), context.Canceled):
		return failure.Canceled(err)
	default:
		return failure.TranslationFailed(err)
	}
}

// Gate rejects output that is not exactly one statement starting with SELECT
// or WITH, or that contains a forbidden keyword token anywhere.
func Gate(sql string) (*sqltext.Analysis, error) {
	analysis, err := sqltext.Analyze(sql)
	if err != nil {
		return nil, failure.UnsafeGeneration(err.Error())
	}
	if len(analysis.Forbidden) > 0 {
		return nil, failure.UnsafeGeneration("forbidden keyword " + strings.Join(analysis.Forbidden, ", "))
	}
	switch {
	case analysis.Statements == 0:
		return nil, failure.UnsafeGeneration("empty statement")
	case analysis.Statements > 1:
		return nil, failure.UnsafeGeneration("multiple statements")
	}
	if analysis.Leading != "SELECT" && analysis.Leading != "WITH" {
		return nil, failure.UnsafeGeneration("statement is not a SELECT")
	}
	return analysis, nil
}
