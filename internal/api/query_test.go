package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wmsinsight/wmsinsight/internal/chart"
	"github.com/wmsinsight/wmsinsight/internal/engine"
	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/nl2sql"
	"github.com/wmsinsight/wmsinsight/internal/policy"
	"github.com/wmsinsight/wmsinsight/internal/query"
	"github.com/wmsinsight/wmsinsight/internal/schema"
)

type fakeQueryService struct {
	requests  []engine.QueryRequest
	response  engine.QueryResponse
	translate engine.Translation
	err       error
}

func (f *fakeQueryService) Ask(_ context.Context, req engine.QueryRequest) (engine.QueryResponse, error) {
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func (f *fakeQueryService) Translate(_ context.Context, req engine.QueryRequest) (engine.Translation, error) {
	f.requests = append(f.requests, req)
	return f.translate, f.err
}

func postJSON(t *testing.T, h http.Handler, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var decoded map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode failed: %v (body=%s)", err, rr.Body.String())
	}
	return rr, decoded
}

func TestQueryEndpointReturnsResultAndChart(t *testing.T) {
	service := &fakeQueryService{response: engine.QueryResponse{
		Question: "top 2 products by revenue",
		SQL:      "SELECT name, revenue FROM x LIMIT 2",
		Result: query.Result{
			Columns: []string{"product", "revenue"},
			Rows:    [][]any{{"Widget", 120.5}, {"Gadget", math.NaN()}},
		},
		Chart: &chart.Payload{
			Kind:   chart.KindBar,
			Label:  "revenue",
			Labels: []string{"Widget"},
			Series: []decimal.Decimal{decimal.NewFromFloat(120.5)},
		},
		RowLimit: 2,
		Stats:    engine.Stats{Total: 15 * time.Millisecond},
	}}
	h := NewHandler(testConfig(t), Dependencies{Queries: service})

	rr, body := postJSON(t, h, "/api/query", `{"query":" top 2 products by revenue ","chart_type":"BAR","openai_key":"sk-body"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body["sql"] != "SELECT name, revenue FROM x LIMIT 2" || body["query"] != "top 2 products by revenue" {
		t.Fatalf("body = %#v", body)
	}
	result := body["result"].(map[string]any)
	data := result["data"].([]any)
	if len(data) != 2 || data[1].([]any)[1] != nil {
		t.Fatalf("data = %#v", data)
	}
	chartData := body["chart_data"].(map[string]any)
	if chartData["type"] != "bar" {
		t.Fatalf("chart_data = %#v", chartData)
	}
	datasets := chartData["datasets"].([]any)
	first := datasets[0].(map[string]any)
	if first["label"] != "revenue" || !reflect.DeepEqual(first["data"], []any{120.5}) {
		t.Fatalf("dataset = %#v", first)
	}
	if _, ok := body["chart_skipped"]; ok {
		t.Fatal("chart_skipped should be omitted when a chart was produced")
	}

	if len(service.requests) != 1 {
		t.Fatalf("requests = %d", len(service.requests))
	}
	got := service.requests[0]
	if got.Question != "top 2 products by revenue" || got.ChartKind != chart.KindBar || got.Credential != "sk-body" {
		t.Fatalf("request = %+v", got)
	}
}

func TestQueryEndpointCredentialFromHeader(t *testing.T) {
	service := &fakeQueryService{}
	h := NewHandler(testConfig(t), Dependencies{Queries: service})

	rr, _ := postJSON(t, h, "/api/query", `{"query":"total revenue"}`, map[string]string{"Authorization": "Bearer sk-header"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if service.requests[0].Credential != "sk-header" {
		t.Fatalf("credential = %q", service.requests[0].Credential)
	}
}

func TestQueryEndpointRejectsInvalidBodies(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"query":`,
		"unknown field": `{"query":"x","sql":"SELECT 1"}`,
		"missing query": `{"chart_type":"bar"}`,
		"blank query":   `{"query":"   "}`,
		"bad chart":     `{"query":"revenue","chart_type":"pie"}`,
		"too long":      `{"query":"` + strings.Repeat("a", 2001) + `"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			service := &fakeQueryService{}
			h := NewHandler(testConfig(t), Dependencies{Queries: service})
			rr, body := postJSON(t, h, "/api/query", payload, nil)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if body["error_code"] != string(failure.KindInvalidRequest) || body["detail"] == "" {
				t.Fatalf("body = %#v", body)
			}
			if len(service.requests) != 0 {
				t.Fatal("invalid requests must not reach the engine")
			}
		})
	}
}

func TestQueryEndpointMapsFailureKinds(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		retryable bool
	}{
		{failure.InvalidRequest("bad"), http.StatusBadRequest, false},
		{failure.UnsafeGeneration("multiple statements"), http.StatusBadRequest, false},
		{failure.PolicyViolation(policy.RuleGrantedTables, "nope"), http.StatusForbidden, false},
		{failure.Unresolvable([]string{"flux"}), http.StatusUnprocessableEntity, false},
		{failure.Execution(context.DeadlineExceeded), http.StatusUnprocessableEntity, true},
		{failure.TranslationFailed(context.DeadlineExceeded), http.StatusFailedDependency, true},
		{failure.QueryTimeout(context.DeadlineExceeded), http.StatusRequestTimeout, true},
		{failure.Canceled(context.Canceled), StatusClientClosedRequest, true},
		{failure.Internal(context.Canceled), http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		kind := failure.KindOf(tc.err)
		t.Run(string(kind), func(t *testing.T) {
			h := NewHandler(testConfig(t), Dependencies{Queries: &fakeQueryService{err: tc.err}})
			rr, body := postJSON(t, h, "/api/query", `{"query":"revenue"}`, map[string]string{"X-Trace-ID": "trace-9"})
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if body["error_code"] != string(kind) || body["retryable"] != tc.retryable || body["trace_id"] != "trace-9" {
				t.Fatalf("body = %#v", body)
			}
			if _, ok := body["sql"]; ok {
				t.Fatal("failures must not carry sql")
			}
		})
	}
}

func TestQueryEndpointFailureDetails(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Queries: &fakeQueryService{err: failure.Unresolvable([]string{"flux", "capacitor"})}})
	_, body := postJSON(t, h, "/api/query", `{"query":"flux capacitor"}`, nil)
	if !reflect.DeepEqual(body["unresolved_tokens"], []any{"flux", "capacitor"}) {
		t.Fatalf("body = %#v", body)
	}

	h = NewHandler(testConfig(t), Dependencies{Queries: &fakeQueryService{err: failure.PolicyViolation(policy.RuleKnownTables, "unknown table")}})
	_, body = postJSON(t, h, "/api/query", `{"query":"x"}`, nil)
	if body["rule"] != policy.RuleKnownTables {
		t.Fatalf("body = %#v", body)
	}

	h = NewHandler(testConfig(t), Dependencies{Queries: &fakeQueryService{err: failure.Execution(errSecret)}})
	rr, _ := postJSON(t, h, "/api/query", `{"query":"x"}`, nil)
	if strings.Contains(rr.Body.String(), "pg_hba") {
		t.Fatal("database diagnostics must not reach the caller")
	}
}

type secretError struct{}

func (secretError) Error() string { return "no pg_hba.conf entry for host" }

var errSecret error = secretError{}

func TestQueryEndpointNotConfigured(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr, _ := postJSON(t, h, "/api/query", `{"query":"x"}`, nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestTranslateEndpoint(t *testing.T) {
	service := &fakeQueryService{translate: engine.Translation{
		Question: "orders by status",
		SQL:      "SELECT status FROM orders LIMIT 1000",
		Tables:   []string{"orders"},
		RowLimit: 1000,
	}}
	h := NewHandler(testConfig(t), Dependencies{Queries: service})
	rr, body := postJSON(t, h, "/api/query/translate", `{"query":"orders by status"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body["sql"] != "SELECT status FROM orders LIMIT 1000" || body["row_limit"] != float64(1000) {
		t.Fatalf("body = %#v", body)
	}
	if !reflect.DeepEqual(body["columns"], []any{}) {
		t.Fatalf("columns = %#v", body["columns"])
	}
}

func TestQueryEndpointEndToEnd(t *testing.T) {
	catalog, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default() error = %v", err)
	}
	translator, err := nl2sql.NewTranslator(catalog, nl2sql.NewRuleBackend(), nl2sql.Options{})
	if err != nil {
		t.Fatalf("NewTranslator() error = %v", err)
	}
	validator, err := policy.NewValidator(catalog, policy.Config{MaxRows: 100})
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	executor := executorFunc(func(_ context.Context, req query.Request) (query.Result, error) {
		if req.RowLimit != 100 {
			t.Errorf("row limit = %d", req.RowLimit)
		}
		return query.Result{
			Columns: []string{"month", "revenue"},
			Rows: [][]any{
				{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10.0},
				{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), int64(12)},
			},
		}, nil
	})
	svc, err := engine.NewService(translator, validator, executor, engine.Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h := NewHandler(testConfig(t), Dependencies{Queries: svc, Catalog: catalog})

	rr, body := postJSON(t, h, "/api/query", `{"query":"monthly revenue","chart_type":"line"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.HasSuffix(body["sql"].(string), "ORDER BY month ASC LIMIT 100") {
		t.Fatalf("sql = %v", body["sql"])
	}
	chartData := body["chart_data"].(map[string]any)
	if !reflect.DeepEqual(chartData["labels"], []any{"2024-01-01", "2024-02-01"}) {
		t.Fatalf("labels = %#v", chartData["labels"])
	}

	rr, body = postJSON(t, h, "/api/query", `{"query":"DROP TABLE orders"}`, nil)
	if rr.Code != http.StatusBadRequest || body["error_code"] != string(failure.KindUnsafeGeneration) {
		t.Fatalf("status = %d body = %#v", rr.Code, body)
	}
}

type executorFunc func(ctx context.Context, req query.Request) (query.Result, error)

func (f executorFunc) Execute(ctx context.Context, req query.Request) (query.Result, error) {
	return f(ctx, req)
}

func TestQueryEndpointSkipsChartForOutOfRangeValues(t *testing.T) {
	catalog, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default() error = %v", err)
	}
	translator, err := nl2sql.NewTranslator(catalog, nl2sql.NewRuleBackend(), nl2sql.Options{})
	if err != nil {
		t.Fatalf("NewTranslator() error = %v", err)
	}
	validator, err := policy.NewValidator(catalog, policy.Config{MaxRows: 100})
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	executor := executorFunc(func(context.Context, query.Request) (query.Result, error) {
		return query.Result{Columns: []string{"name", "price"}, Rows: [][]any{{"a", "1e400"}}}, nil
	})
	svc, err := engine.NewService(translator, validator, executor, engine.Options{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h := NewHandler(testConfig(t), Dependencies{Queries: svc, Catalog: catalog})

	rr, body := postJSON(t, h, "/api/query", `{"query":"SELECT name, price FROM products","chart_type":"bar"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body["chart_skipped"] != true || body["chart_data"] != nil {
		t.Fatalf("body = %#v", body)
	}
	if reason, _ := body["chart_skip_reason"].(string); !strings.Contains(reason, "out of float range") {
		t.Fatalf("chart_skip_reason = %q", reason)
	}
}

func TestWriteJSONReportsUnencodablePayload(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]any{"value": math.Inf(1)})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v (%q)", err, rr.Body.String())
	}
	if body["error_code"] != string(failure.KindInternal) {
		t.Fatalf("body = %#v", body)
	}
}
