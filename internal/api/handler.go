package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wmsinsight/wmsinsight/internal/config"
	"github.com/wmsinsight/wmsinsight/internal/engine"
	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/observability"
	"github.com/wmsinsight/wmsinsight/internal/schema"
)

const defaultMaxBodyBytes = 64 << 10

type ReadinessCheck func(ctx context.Context) error

// QueryService is the orchestrator surface the handlers need.
type QueryService interface {
	Ask(ctx context.Context, req engine.QueryRequest) (engine.QueryResponse, error)
	Translate(ctx context.Context, req engine.QueryRequest) (engine.Translation, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Queries           QueryService
	Catalog           *schema.Catalog
	MaxBodyBytes      int64
}

type route struct {
	method  string
	path    string
	handler func(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request)
}

var routes = []route{
	{method: http.MethodGet, path: "/api/health", handler: handleHealth},
	{method: http.MethodGet, path: "/api/ready", handler: handleReady},
	{method: http.MethodPost, path: "/api/query", handler: handleQuery},
	{method: http.MethodPost, path: "/api/query/translate", handler: handleTranslate},
	{method: http.MethodGet, path: "/api/schema", handler: handleSchema},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()
	for _, rt := range routes {
		handler := rt.handler
		mux.HandleFunc(rt.method+" "+rt.path, func(w http.ResponseWriter, r *http.Request) {
			handler(cfg, deps, w, r)
		})
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func handleHealth(cfg config.Config, _ Dependencies, w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
}

func handleReady(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	timeout := deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := deps.Readiness(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func handleSchema(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Catalog.Describe())
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// CheckPing reports name as not ready when its ping fails.
func CheckPing(name string, target Pinger) ReadinessCheck {
	if target == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := target.PingContext(ctx); err != nil {
			return fmt.Errorf("%s unavailable: %w", name, err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// writeJSON encodes before writing the header so that an unencodable payload
// becomes a 500 instead of a 200 with an empty body.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(map[string]any{
			"detail":     "response could not be encoded",
			"error_code": string(failure.KindInternal),
			"retryable":  true,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError emits {detail, error_code, retryable, trace_id} plus any extra
// top-level fields.
func writeError(ctx context.Context, w http.ResponseWriter, status int, code, detail string, retryable bool, extra map[string]any) {
	body := map[string]any{
		"detail":     detail,
		"error_code": code,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
	for key, value := range extra {
		body[key] = value
	}
	writeJSON(w, status, body)
}
