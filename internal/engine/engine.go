// Package engine runs a question through translation, validation, execution
// and chart shaping, and records the outcome.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wmsinsight/wmsinsight/internal/audit"
	"github.com/wmsinsight/wmsinsight/internal/chart"
	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/grants"
	"github.com/wmsinsight/wmsinsight/internal/nl2sql"
	"github.com/wmsinsight/wmsinsight/internal/observability"
	"github.com/wmsinsight/wmsinsight/internal/policy"
	"github.com/wmsinsight/wmsinsight/internal/query"
)

const (
	DefaultTranslationTimeout = 30 * time.Second
	auditWriteTimeout         = 5 * time.Second
)

type Stage string

const (
	StageReceived    Stage = "received"
	StageTranslating Stage = "translating"
	StageValidating  Stage = "validating"
	StageExecuting   Stage = "executing"
	StageShaping     Stage = "shaping"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

type QueryRequest struct {
	Question  string
	ChartKind chart.Kind
	// Credential is the caller's model key. It is forwarded to translation and
	// reduced to a fingerprint for grants and audit.
	Credential string
}

type Stats struct {
	Translate time.Duration
	Validate  time.Duration
	Execute   time.Duration
	Shape     time.Duration
	Total     time.Duration
}

type QueryResponse struct {
	Question        string
	SQL             string
	Result          query.Result
	Chart           *chart.Payload
	ChartSkipped    bool
	ChartSkipReason string
	RowLimit        int
	LimitRewritten  bool
	Stats           Stats
}

// Translation is a validated statement that was not executed.
type Translation struct {
	Question       string
	SQL            string
	Tables         []string
	Columns        []string
	RowLimit       int
	LimitRewritten bool
}

type Translator interface {
	Translate(ctx context.Context, question, credential string) (nl2sql.CandidateQuery, error)
}

type Validator interface {
	Validate(candidate nl2sql.CandidateQuery, granted grants.TableSet) (policy.Validated, error)
}

type Options struct {
	// ServerCredential is used when a request carries no credential.
	ServerCredential   string
	TranslationTimeout time.Duration
	Grants             grants.Resolver
	Audit              audit.Sink
	Logger             *slog.Logger
}

type Service struct {
	translator         Translator
	validator          Validator
	executor           query.Engine
	serverCredential   string
	translationTimeout time.Duration
	grants             grants.Resolver
	audit              audit.Sink
	logger             *slog.Logger
}

func NewService(translator Translator, validator Validator, executor query.Engine, opts Options) (*Service, error) {
	if translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("query executor is required")
	}
	timeout := opts.TranslationTimeout
	if timeout <= 0 {
		timeout = DefaultTranslationTimeout
	}
	resolver := opts.Grants
	if resolver == nil {
		resolver = allTables{}
	}
	sink := opts.Audit
	if sink == nil {
		sink = audit.NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		translator:         translator,
		validator:          validator,
		executor:           executor,
		serverCredential:   strings.TrimSpace(opts.ServerCredential),
		translationTimeout: timeout,
		grants:             resolver,
		audit:              sink,
		logger:             logger,
	}, nil
}

type allTables struct{}

func (allTables) Resolve(string) grants.TableSet { return grants.All }

// run tracks one question through its stages.
type run struct {
	stage      Stage
	started    time.Time
	stageStart time.Time
	record     audit.Record
}

func newRun(ctx context.Context, question string) *run {
	now := time.Now()
	record := audit.NewRecord(question)
	record.TraceID = observability.TraceIDFromContext(ctx)
	return &run{stage: StageReceived, started: now, stageStart: now, record: record}
}

// enter closes the current stage and returns its duration.
func (r *run) enter(next Stage) time.Duration {
	now := time.Now()
	elapsed := now.Sub(r.stageStart)
	if r.stage != StageReceived {
		observability.ObserveStage(string(r.stage), elapsed)
	}
	r.stage = next
	r.stageStart = now
	return elapsed
}

// Ask answers one question. Failures are returned as *failure.Error and no
// partial SQL or rows accompany them.
func (s *Service) Ask(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	r := newRun(ctx, question)

	kind, err := chart.ParseKind(string(req.ChartKind))
	if err != nil {
		return QueryResponse{}, s.fail(ctx, r, failure.InvalidRequest(err.Error()))
	}
	r.record.ChartKind = string(kind)
	if question == "" {
		return QueryResponse{}, s.fail(ctx, r, failure.InvalidRequest("question is required"))
	}

	credential := s.credential(req.Credential)
	if credential != "" {
		r.record.CredentialFingerprint = grants.Fingerprint(credential)
	}

	validated, stats, err := s.prepare(ctx, r, question, credential)
	if err != nil {
		return QueryResponse{}, s.fail(ctx, r, err)
	}

	r.enter(StageExecuting)
	result, err := s.executor.Execute(ctx, query.Request{SQL: validated.ExecSQL, RowLimit: validated.RowLimit})
	if err != nil {
		return QueryResponse{}, s.fail(ctx, r, err)
	}
	observability.ObserveResult(result.RowCount(), result.Truncated)

	stats.Execute = r.enter(StageShaping)
	payload, outcome := chart.Shape(result, kind)
	if outcome.Skipped {
		observability.IncrementChartSkipped()
		s.logger.InfoContext(ctx, "chart skipped",
			slog.String("trace_id", r.record.TraceID),
			slog.String("reason", outcome.Reason),
		)
	}

	stats.Shape = r.enter(StageCompleted)
	stats.Total = time.Since(r.started)

	r.record.SQL = validated.SQL
	r.record.Outcome = audit.OutcomeCompleted
	r.record.RowCount = result.RowCount()
	r.record.Truncated = result.Truncated
	r.record.Duration = stats.Total
	observability.ObserveQuestion(string(audit.OutcomeCompleted), "")
	s.writeAudit(ctx, r.record)

	return QueryResponse{
		Question:        question,
		SQL:             validated.SQL,
		Result:          result,
		Chart:           payload,
		ChartSkipped:    outcome.Skipped,
		ChartSkipReason: outcome.Reason,
		RowLimit:        validated.RowLimit,
		LimitRewritten:  validated.LimitRewritten,
		Stats:           stats,
	}, nil
}

// Translate runs translation and validation only.
func (s *Service) Translate(ctx context.Context, req QueryRequest) (Translation, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Translation{}, failure.InvalidRequest("question is required")
	}
	r := newRun(ctx, question)
	validated, _, err := s.prepare(ctx, r, question, s.credential(req.Credential))
	if err != nil {
		typed := failure.From(err)
		if typed.Kind == failure.KindPolicyViolation {
			observability.IncrementPolicyViolation(typed.Rule)
		}
		return Translation{}, typed
	}
	r.enter(StageCompleted)
	return Translation{
		Question:       question,
		SQL:            validated.SQL,
		Tables:         validated.Tables,
		Columns:        validated.Columns,
		RowLimit:       validated.RowLimit,
		LimitRewritten: validated.LimitRewritten,
	}, nil
}

func (s *Service) prepare(ctx context.Context, r *run, question, credential string) (policy.Validated, Stats, error) {
	var stats Stats
	granted := s.grants.Resolve(credential)

	r.enter(StageTranslating)
	translateCtx, cancel := context.WithTimeout(ctx, s.translationTimeout)
	candidate, err := s.translator.Translate(translateCtx, question, credential)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return policy.Validated{}, stats, failure.Canceled(ctx.Err())
		}
		return policy.Validated{}, stats, err
	}
	r.record.SQL = candidate.SQL

	stats.Translate = r.enter(StageValidating)
	validated, err := s.validator.Validate(candidate, granted)
	if err != nil {
		return policy.Validated{}, stats, err
	}
	r.record.SQL = validated.SQL
	stats.Validate = time.Since(r.stageStart)
	return validated, stats, nil
}

func (s *Service) credential(supplied string) string {
	if credential := strings.TrimSpace(supplied); credential != "" {
		return credential
	}
	return s.serverCredential
}

func (s *Service) fail(ctx context.Context, r *run, err error) error {
	typed := failure.From(err)
	failedStage := r.stage
	r.enter(StageFailed)

	r.record.Outcome = audit.OutcomeFailed
	r.record.ErrorKind = string(typed.Kind)
	r.record.Rule = typed.Rule
	r.record.FailedStage = string(failedStage)
	r.record.Duration = time.Since(r.started)

	observability.ObserveQuestion(string(audit.OutcomeFailed), string(typed.Kind))
	if typed.Kind == failure.KindPolicyViolation {
		observability.IncrementPolicyViolation(typed.Rule)
	}
	level := slog.LevelWarn
	if typed.Kind == failure.KindInternal {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "question failed",
		slog.String("trace_id", r.record.TraceID),
		slog.String("stage", string(failedStage)),
		slog.String("error_kind", string(typed.Kind)),
		slog.String("error", typed.Error()),
	)
	s.writeAudit(ctx, r.record)
	return typed
}

// writeAudit survives caller cancellation so failed and canceled requests
// are still recorded.
func (s *Service) writeAudit(ctx context.Context, record audit.Record) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Record(auditCtx, record); err != nil {
		observability.IncrementAuditFailure()
		s.logger.ErrorContext(ctx, "write audit record",
			slog.String("audit_id", record.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
