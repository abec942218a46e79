// Package chart projects a tabular result onto a single labelled series.
package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wmsinsight/wmsinsight/internal/query"
)

type Kind string

const (
	KindBar  Kind = "bar"
	KindLine Kind = "line"
	KindNone Kind = "none"
)

// ParseKind accepts bar, line or none; empty means none.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case "", KindNone:
		return KindNone, nil
	case KindBar:
		return KindBar, nil
	case KindLine:
		return KindLine, nil
	default:
		return "", fmt.Errorf("unsupported chart type %q", value)
	}
}

// Payload pairs the first result column (labels) with the second (values).
// Labels and Series always have the same length.
type Payload struct {
	Kind   Kind
	Label  string
	Labels []string
	Series []decimal.Decimal
}

// Floats returns the series as float64 for JSON encoding.
func (p Payload) Floats() []float64 {
	out := make([]float64, len(p.Series))
	for i, value := range p.Series {
		out[i] = value.InexactFloat64()
	}
	return out
}

// Outcome explains why no payload was produced for a requested chart.
type Outcome struct {
	Skipped bool
	Reason  string
}

func skipped(format string, args ...any) (*Payload, Outcome) {
	return nil, Outcome{Skipped: true, Reason: fmt.Sprintf(format, args...)}
}

// Shape builds a chart payload. Columns past the second are ignored. A result
// that cannot be charted yields a skip outcome, never an error.
func Shape(result query.Result, kind Kind) (*Payload, Outcome) {
	if kind == KindNone || kind == "" {
		return nil, Outcome{}
	}
	if len(result.Columns) < 2 {
		return skipped("result has %d column(s), a chart needs a label and a value column", len(result.Columns))
	}
	if len(result.Rows) == 0 {
		return skipped("result has no rows")
	}

	payload := &Payload{
		Kind:   kind,
		Label:  result.Columns[1],
		Labels: make([]string, 0, len(result.Rows)),
		Series: make([]decimal.Decimal, 0, len(result.Rows)),
	}
	for index, row := range result.Rows {
		if len(row) < 2 {
			return skipped("row %d has %d value(s)", index, len(row))
		}
		value, ok := toDecimal(row[1])
		if !ok {
			return skipped("column %q is not numeric at row %d", result.Columns[1], index)
		}
		if f := value.InexactFloat64(); math.IsInf(f, 0) || math.IsNaN(f) {
			return skipped("column %q is out of float range at row %d", result.Columns[1], index)
		}
		payload.Labels = append(payload.Labels, Label(row[0]))
		payload.Series = append(payload.Series, value)
	}
	return payload, Outcome{}
}

// Label renders a label cell. Dates without a time part print as
// 2006-01-02, other timestamps as RFC 3339, nil as empty.
func Label(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch typed := value.(type) {
	case int:
		return decimal.NewFromInt(int64(typed)), true
	case int8:
		return decimal.NewFromInt(int64(typed)), true
	case int16:
		return decimal.NewFromInt(int64(typed)), true
	case int32:
		return decimal.NewFromInt32(typed), true
	case int64:
		return decimal.NewFromInt(typed), true
	case uint8:
		return decimal.NewFromInt(int64(typed)), true
	case uint16:
		return decimal.NewFromInt(int64(typed)), true
	case uint32:
		return decimal.NewFromInt(int64(typed)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(typed), 0), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(typed)), 0), true
	case float32:
		return fromFloat(float64(typed))
	case float64:
		return fromFloat(typed)
	case *big.Int:
		if typed == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromBigInt(typed, 0), true
	case decimal.Decimal:
		return typed, true
	case json.Number:
		return fromString(typed.String())
	case string:
		return fromString(typed)
	case []byte:
		return fromString(string(typed))
	default:
		return decimal.Decimal{}, false
	}
}

func fromFloat(value float64) (decimal.Decimal, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(value), true
}

func fromString(value string) (decimal.Decimal, bool) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return parsed, true
}
