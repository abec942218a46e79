package nl2sql

import (
	"context"
	"testing"

	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/schema"
)

func generate(t *testing.T, question string) (string, error) {
	t.Helper()
	catalog, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default() error = %v", err)
	}
	return NewRuleBackend().GenerateSQL(context.Background(), Request{Question: question, Catalog: catalog, MaxRows: 1000})
}

func TestRuleBackendTemplates(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{
			question: "What are my top 5 products by revenue?",
			want:     "SELECT products.name AS product, SUM(sales_data.revenue) AS revenue FROM sales_data JOIN products ON sales_data.product_id = products.id GROUP BY products.name ORDER BY revenue DESC LIMIT 5",
		},
		{
			question: "bottom 3 channels by profit",
			want:     "SELECT sales_data.marketplace AS marketplace, SUM(sales_data.profit) AS profit FROM sales_data GROUP BY sales_data.marketplace ORDER BY profit ASC LIMIT 3",
		},
		{
			question: "monthly revenue",
			want:     "SELECT DATE_TRUNC('month', sales_data.date) AS month, SUM(sales_data.revenue) AS revenue FROM sales_data GROUP BY DATE_TRUNC('month', sales_data.date) ORDER BY month ASC",
		},
		{
			question: "how many orders",
			want:     "SELECT COUNT(*) AS order_count FROM orders",
		},
		{
			question: "orders by status",
			want:     "SELECT orders.status AS status, COUNT(*) AS order_count FROM orders GROUP BY orders.status ORDER BY order_count DESC",
		},
		{
			question: "total sales in 2024",
			want:     "SELECT SUM(sales_data.revenue) AS revenue FROM sales_data WHERE date_part('year', sales_data.date) = 2024",
		},
		{
			question: "average order value by customer",
			want:     "SELECT orders.customer_name AS customer_name, AVG(orders.total_amount) AS avg_total_amount FROM orders GROUP BY orders.customer_name ORDER BY avg_total_amount DESC",
		},
		{
			question: "revenue per order",
			want:     `SELECT orders.order_number AS "order", SUM(sales_data.revenue) AS revenue FROM sales_data JOIN orders ON sales_data.order_id = orders.id GROUP BY orders.order_number ORDER BY revenue DESC`,
		},
		{
			question: "SELECT name FROM products",
			want:     "SELECT name FROM products",
		},
	}
	for _, tc := range cases {
		got, err := generate(t, tc.question)
		if err != nil {
			t.Fatalf("%q: GenerateSQL() error = %v", tc.question, err)
		}
		if got != tc.want {
			t.Fatalf("%q:\n got  %s\n want %s", tc.question, got, tc.want)
		}
	}
}

func TestRuleBackendGeneratedSQLPassesGate(t *testing.T) {
	for _, question := range []string{
		"weekly units sold by channel",
		"top 10 customers by order value",
		"list products",
		"number of sales per product",
		"quarterly profit for 2023",
	} {
		sql, err := generate(t, question)
		if err != nil {
			t.Fatalf("%q: GenerateSQL() error = %v", question, err)
		}
		if _, err := Gate(sql); err != nil {
			t.Fatalf("%q: Gate(%q) error = %v", question, sql, err)
		}
	}
}

func TestRuleBackendUnresolvable(t *testing.T) {
	_, err := generate(t, "average shoe size of customers")
	typed := failure.From(err)
	if typed == nil || typed.Kind != failure.KindUnresolvableQuery {
		t.Fatalf("error = %v, want unresolvable", err)
	}
	if len(typed.Tokens) != 2 || typed.Tokens[0] != "shoe" {
		t.Fatalf("tokens = %#v", typed.Tokens)
	}
}

func TestRuleBackendTimeColumnThroughRelationship(t *testing.T) {
	// products has no date column but reaches sales_data through a relationship.
	sql, err := generate(t, "monthly count of products")
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if _, err := Gate(sql); err != nil {
		t.Fatalf("Gate(%q) error = %v", sql, err)
	}
}

func TestRuleBackendHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	catalog, _ := schema.Default()
	if _, err := NewRuleBackend().GenerateSQL(ctx, Request{Question: "revenue", Catalog: catalog}); err == nil {
		t.Fatal("expected context error")
	}
}
