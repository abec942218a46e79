package sqldb

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"
)

// normalizeValues turns driver-specific values into JSON-friendly ones.
func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case duckdb.Decimal:
		return decimalFloat(typed)
	case *duckdb.Decimal:
		if typed == nil {
			return nil
		}
		return decimalFloat(*typed)
	case duckdb.UUID:
		return uuid.UUID(typed).String()
	case *duckdb.UUID:
		if typed == nil {
			return nil
		}
		return uuid.UUID(*typed).String()
	case duckdb.Interval:
		return fmt.Sprintf("%d months %d days %d us", typed.Months, typed.Days, typed.Micros)
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeValue(item)
		}
		return out
	default:
		return typed
	}
}

func decimalFloat(value duckdb.Decimal) any {
	if value.Value == nil {
		return nil
	}
	return decimal.NewFromBigInt(value.Value, -int32(value.Scale)).InexactFloat64()
}
