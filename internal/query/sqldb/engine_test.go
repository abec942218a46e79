package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/query"
)

func newMockEngine(t *testing.T, opts Options) (*Engine, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	engine, err := NewEngine(db, opts)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine, db, mock
}

func TestExecuteMarksTruncatedResults(t *testing.T) {
	engine, _, mock := newMockEngine(t, Options{})
	mock.ExpectQuery("SELECT name FROM products LIMIT 3").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b").AddRow("c"))

	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT name FROM products LIMIT 3;", RowLimit: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncated result")
	}
	if !reflect.DeepEqual(result.Rows, [][]any{{"a"}, {"b"}}) {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecuteExactRowLimitIsNotTruncated(t *testing.T) {
	engine, _, mock := newMockEngine(t, Options{})
	mock.ExpectQuery("SELECT name FROM products").
		WillReturnRows(sqlmock.NewRows([]string{"name", "price"}).AddRow("a", 1.5).AddRow("b", nil))

	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT name FROM products", RowLimit: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Truncated || result.RowCount() != 2 {
		t.Fatalf("result = %+v", result)
	}
	for _, row := range result.Rows {
		if len(row) != len(result.Columns) {
			t.Fatalf("row width %d != %d", len(row), len(result.Columns))
		}
	}
}

func TestExecuteTimeoutReturnsConnection(t *testing.T) {
	engine, db, mock := newMockEngine(t, Options{Timeout: 50 * time.Millisecond})
	mock.ExpectQuery("SELECT SUM(revenue) FROM sales_data").
		WillDelayFor(2 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1))

	_, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT SUM(revenue) FROM sales_data"})
	if failure.KindOf(err) != failure.KindQueryTimeout {
		t.Fatalf("error = %v, want query timeout", err)
	}
	if !errors.Is(err, &failure.Error{Kind: failure.KindQueryTimeout}) {
		t.Fatal("errors.Is should match by kind")
	}
	if inUse := db.Stats().InUse; inUse != 0 {
		t.Fatalf("connections in use = %d, want 0", inUse)
	}
}

func TestExecuteWaitsForPoolSlotWithinTimeout(t *testing.T) {
	engine, db, _ := newMockEngine(t, Options{Timeout: 50 * time.Millisecond})
	db.SetMaxOpenConns(1)
	held, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("db.Conn() error = %v", err)
	}
	defer func() { _ = held.Close() }()

	_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT 1"})
	if failure.KindOf(err) != failure.KindQueryTimeout {
		t.Fatalf("error = %v, want query timeout while pool is exhausted", err)
	}
}

func TestExecuteCanceledByCaller(t *testing.T) {
	engine, _, mock := newMockEngine(t, Options{})
	mock.ExpectQuery("SELECT 1").WillDelayFor(2 * time.Second).WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := engine.Execute(ctx, query.Request{SQL: "SELECT 1"})
	if failure.KindOf(err) != failure.KindCanceled {
		t.Fatalf("error = %v, want canceled", err)
	}
}

func TestExecuteHidesDatabaseMessage(t *testing.T) {
	engine, _, mock := newMockEngine(t, Options{})
	mock.ExpectQuery("SELECT nope FROM products").WillReturnError(errors.New(`Binder Error: column "nope" not found`))

	_, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT nope FROM products"})
	typed := failure.From(err)
	if typed.Kind != failure.KindExecution {
		t.Fatalf("error = %v, want execution error", err)
	}
	if typed.Message != "query execution failed" {
		t.Fatalf("message = %q", typed.Message)
	}
	if typed.Cause == nil {
		t.Fatal("cause should keep the database message")
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	engine, _, _ := newMockEngine(t, Options{})
	_, err := engine.Execute(context.Background(), query.Request{SQL: " ; "})
	if failure.KindOf(err) != failure.KindInvalidRequest {
		t.Fatalf("error = %v", err)
	}
}

func TestNormalizeValue(t *testing.T) {
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
	cases := []struct {
		in   any
		want any
	}{
		{in: []byte("abc"), want: "abc"},
		{in: duckdb.Decimal{Width: 10, Scale: 2, Value: big.NewInt(12345)}, want: 123.45},
		{in: big.NewInt(42), want: int64(42)},
		{in: huge, want: "170141183460469231731687303715884105727"},
		{in: duckdb.UUID{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}, want: "12345678-9abc-def0-1234-56789abcdef0"},
		{in: []any{[]byte("x"), big.NewInt(1)}, want: []any{"x", int64(1)}},
		{in: nil, want: nil},
	}
	for _, tc := range cases {
		if got := normalizeValue(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("normalizeValue(%#v) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestExecuteIsIdempotentOnDuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(`CREATE TABLE sales_data (marketplace VARCHAR, revenue DECIMAL(10,2))`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO sales_data VALUES ('amazon', 10.50), ('ebay', 4.25), ('amazon', 2.00)`); err != nil {
		t.Fatalf("insert rows: %v", err)
	}

	engine, err := NewEngine(db, Options{})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	request := query.Request{
		SQL:      "SELECT marketplace, SUM(revenue) AS revenue FROM sales_data GROUP BY marketplace ORDER BY marketplace LIMIT 10",
		RowLimit: 10,
	}
	first, err := engine.Execute(context.Background(), request)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := engine.Execute(context.Background(), request)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	first.Duration, second.Duration = 0, 0
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ:\n%#v\n%#v", first, second)
	}
	want := [][]any{{"amazon", 12.5}, {"ebay", 4.25}}
	if !reflect.DeepEqual(first.Rows, want) {
		t.Fatalf("rows = %#v", first.Rows)
	}
	if db.Stats().InUse != 0 {
		t.Fatalf("connections in use = %d", db.Stats().InUse)
	}
}
