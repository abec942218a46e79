package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wmsinsight/wmsinsight/internal/chart"
	"github.com/wmsinsight/wmsinsight/internal/config"
	"github.com/wmsinsight/wmsinsight/internal/engine"
	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/grants"
	"github.com/wmsinsight/wmsinsight/internal/query"
)

// StatusClientClosedRequest is reported when the caller went away first.
const StatusClientClosedRequest = 499

type queryRequest struct {
	Query     string `json:"query" validate:"required,max=2000"`
	ChartType string `json:"chart_type" validate:"omitempty,oneof=bar line none"`
	OpenAIKey string `json:"openai_key"`
}

type resultPayload struct {
	Columns   []string `json:"columns"`
	Data      [][]any  `json:"data"`
	Truncated bool     `json:"truncated"`
}

type chartDataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

type chartPayload struct {
	Type     string         `json:"type"`
	Labels   []string       `json:"labels"`
	Datasets []chartDataset `json:"datasets"`
}

type queryResponse struct {
	Query           string         `json:"query"`
	SQL             string         `json:"sql"`
	Result          resultPayload  `json:"result"`
	ChartData       *chartPayload  `json:"chart_data,omitempty"`
	ChartSkipped    bool           `json:"chart_skipped,omitempty"`
	ChartSkipReason string         `json:"chart_skip_reason,omitempty"`
	Stats           map[string]any `json:"stats"`
}

type translateResponse struct {
	Query          string   `json:"query"`
	SQL            string   `json:"sql"`
	Tables         []string `json:"tables"`
	Columns        []string `json:"columns"`
	RowLimit       int      `json:"row_limit"`
	LimitRewritten bool     `json:"limit_rewritten"`
}

func handleQuery(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	req, ok := decodeQueryRequest(deps, w, r)
	if !ok {
		return
	}

	resp, err := deps.Queries.Ask(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	body := queryResponse{
		Query:           resp.Question,
		SQL:             resp.SQL,
		Result:          newResultPayload(resp.Result),
		ChartSkipped:    resp.ChartSkipped,
		ChartSkipReason: resp.ChartSkipReason,
		Stats: map[string]any{
			"row_count":       resp.Result.RowCount(),
			"row_limit":       resp.RowLimit,
			"limit_rewritten": resp.LimitRewritten,
			"translate_ms":    resp.Stats.Translate.Milliseconds(),
			"validate_ms":     resp.Stats.Validate.Milliseconds(),
			"execute_ms":      resp.Stats.Execute.Milliseconds(),
			"duration_ms":     resp.Stats.Total.Milliseconds(),
		},
	}
	if resp.Chart != nil {
		body.ChartData = newChartPayload(*resp.Chart)
	}
	writeJSON(w, http.StatusOK, body)
}

func handleTranslate(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	req, ok := decodeQueryRequest(deps, w, r)
	if !ok {
		return
	}

	out, err := deps.Queries.Translate(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		Query:          out.Question,
		SQL:            out.SQL,
		Tables:         nonNil(out.Tables),
		Columns:        nonNil(out.Columns),
		RowLimit:       out.RowLimit,
		LimitRewritten: out.LimitRewritten,
	})
}

func decodeQueryRequest(deps Dependencies, w http.ResponseWriter, r *http.Request) (engine.QueryRequest, bool) {
	limit := deps.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	var request queryRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, string(failure.KindInvalidRequest), "invalid query request body: "+err.Error(), false, nil)
		return engine.QueryRequest{}, false
	}
	request.Query = strings.TrimSpace(request.Query)
	request.ChartType = strings.ToLower(strings.TrimSpace(request.ChartType))
	if err := validate.Struct(request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, string(failure.KindInvalidRequest), validationDetail(err), false, nil)
		return engine.QueryRequest{}, false
	}

	credential := strings.TrimSpace(request.OpenAIKey)
	if credential == "" {
		credential = grants.CredentialFromRequest(r)
	}
	return engine.QueryRequest{
		Question:   request.Query,
		ChartKind:  chart.Kind(request.ChartType),
		Credential: credential,
	}, true
}

func validationDetail(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err.Error()
	}
	fe := fieldErrors[0]
	field := strings.ToLower(fe.Field())
	switch fe.Field() {
	case "Query":
		field = "query"
	case "ChartType":
		field = "chart_type"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	typed := failure.From(err)
	extra := map[string]any{}
	if typed.Rule != "" {
		extra["rule"] = typed.Rule
	}
	if len(typed.Tokens) > 0 {
		extra["unresolved_tokens"] = typed.Tokens
	}
	writeError(r.Context(), w, statusForKind(typed.Kind), string(typed.Kind), typed.Message, failure.Retryable(typed.Kind), extra)
}

func statusForKind(kind failure.Kind) int {
	switch kind {
	case failure.KindInvalidRequest, failure.KindUnsafeGeneration:
		return http.StatusBadRequest
	case failure.KindPolicyViolation:
		return http.StatusForbidden
	case failure.KindUnresolvableQuery, failure.KindExecution:
		return http.StatusUnprocessableEntity
	case failure.KindTranslationFailed:
		return http.StatusFailedDependency
	case failure.KindQueryTimeout:
		return http.StatusRequestTimeout
	case failure.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func newResultPayload(result query.Result) resultPayload {
	data := make([][]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		out := make([]any, len(row))
		for i, value := range row {
			out[i] = jsonValue(value)
		}
		data = append(data, out)
	}
	return resultPayload{Columns: nonNil(result.Columns), Data: data, Truncated: result.Truncated}
}

// jsonValue maps non-finite floats to null; encoding/json rejects them.
func jsonValue(value any) any {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil
		}
	}
	return value
}

func newChartPayload(payload chart.Payload) *chartPayload {
	return &chartPayload{
		Type:   string(payload.Kind),
		Labels: nonNil(payload.Labels),
		Datasets: []chartDataset{{
			Label: payload.Label,
			Data:  payload.Floats(),
		}},
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
