// Package audit records one entry per answered or failed question. Records
// never carry the caller's credential.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

type Record struct {
	ID        uuid.UUID
	Question  string
	SQL       string
	Outcome   Outcome
	ErrorKind string
	Rule      string
	// FailedStage names the orchestrator stage that failed.
	FailedStage string
	RowCount    int
	Truncated   bool
	ChartKind   string
	// CredentialFingerprint is the truncated hash used for grants.
	CredentialFingerprint string
	Duration              time.Duration
	TraceID               string
	CreatedAt             time.Time
}

func NewRecord(question string) Record {
	return Record{ID: uuid.New(), Question: question, CreatedAt: time.Now().UTC()}
}

type Sink interface {
	Record(ctx context.Context, record Record) error
}

type NopSink struct{}

func (NopSink) Record(context.Context, Record) error {
	return nil
}

// LogSink writes records as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, record Record) error {
	if s.Logger == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("audit_id", record.ID.String()),
		slog.String("outcome", string(record.Outcome)),
		slog.String("question", record.Question),
		slog.String("sql", record.SQL),
		slog.Int("row_count", record.RowCount),
		slog.Bool("truncated", record.Truncated),
		slog.Int64("duration_ms", record.Duration.Milliseconds()),
		slog.String("trace_id", record.TraceID),
	}
	if record.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", record.ErrorKind), slog.String("failed_stage", record.FailedStage))
	}
	if record.Rule != "" {
		attrs = append(attrs, slog.String("rule", record.Rule))
	}
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "query audit", attrs...)
	return nil
}

// PostgresSink inserts into the query_audit table created by migrations.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Record(ctx context.Context, record Record) error {
	query := `
INSERT INTO query_audit (audit_id, question, generated_sql, outcome, error_kind, policy_rule, failed_stage, row_count, truncated, chart_type, credential_fingerprint, duration_ms, trace_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	chartKind := record.ChartKind
	if chartKind == "" {
		chartKind = "none"
	}
	_, err := s.db.ExecContext(ctx, query,
		record.ID.String(),
		record.Question,
		nullString(record.SQL),
		string(record.Outcome),
		nullString(record.ErrorKind),
		nullString(record.Rule),
		nullString(record.FailedStage),
		record.RowCount,
		record.Truncated,
		chartKind,
		nullString(record.CredentialFingerprint),
		record.Duration.Milliseconds(),
		nullString(record.TraceID),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}

func (s *PostgresSink) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

// MultiSink fans a record out to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, record Record) error {
	var first error
	for _, sink := range m {
		if err := sink.Record(ctx, record); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
