// Package query defines the executor contract between the orchestrator and
// the warehouse.
package query

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// RowLimit caps the rows read back; more rows mark the result truncated.
	RowLimit int
}

// Result is a tabular answer. Every row holds exactly len(Columns) values.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
