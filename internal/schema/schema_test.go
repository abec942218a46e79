package schema

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func mustDefault(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	return catalog
}

func TestDefaultCatalogTables(t *testing.T) {
	catalog := mustDefault(t)
	want := []string{"orders", "products", "sales_data"}
	if got := catalog.TableNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("TableNames() = %#v, want %#v", got, want)
	}
	sales, ok := catalog.Lookup("SALES_DATA")
	if !ok {
		t.Fatal("expected case-insensitive lookup to succeed")
	}
	if sales.DateColumn != "date" {
		t.Fatalf("sales date column = %q", sales.DateColumn)
	}
	if !catalog.HasColumn("products", "name") {
		t.Fatal("expected products.name")
	}
	if catalog.HasColumn("products", "revenue") {
		t.Fatal("products.revenue should not exist")
	}
}

func TestResolveAlias(t *testing.T) {
	catalog := mustDefault(t)
	cases := []struct {
		token  string
		table  string
		column string
	}{
		{token: "revenue", table: "sales_data", column: "revenue"},
		{token: "Products", table: "products"},
		{token: "customers", table: "orders", column: "customer_name"},
		{token: "total_amount", table: "orders", column: "total_amount"},
		{token: "categories", table: "products", column: "category"},
		{token: "earning", table: "", column: ""},
		{token: "unit costs", table: "products", column: "cost"},
	}
	for _, tc := range cases {
		table, column, ok := catalog.ResolveAlias(tc.token)
		if tc.table == "" {
			if ok {
				t.Fatalf("ResolveAlias(%q) unexpectedly resolved to %s.%s", tc.token, table, column)
			}
			continue
		}
		if !ok || table != tc.table || column != tc.column {
			t.Fatalf("ResolveAlias(%q) = (%q, %q, %v), want (%q, %q)", tc.token, table, column, ok, tc.table, tc.column)
		}
	}
}

func TestAmbiguousBareColumnIsNotIndexed(t *testing.T) {
	catalog := mustDefault(t)
	// id exists on every table and has no explicit alias.
	if _, _, ok := catalog.ResolveAlias("id"); ok {
		t.Fatal("ambiguous column name should not resolve")
	}
	table, column, ok := catalog.ResolveAlias("orders id")
	if !ok || table != "orders" || column != "id" {
		t.Fatalf("qualified alias = (%q, %q, %v)", table, column, ok)
	}
}

func TestRelationshipEitherDirection(t *testing.T) {
	catalog := mustDefault(t)
	rel, ok := catalog.Relationship("products", "sales_data")
	if !ok {
		t.Fatal("expected relationship")
	}
	if rel.FromTable != "sales_data" || rel.FromColumn != "product_id" || rel.ToColumn != "id" {
		t.Fatalf("relationship = %#v", rel)
	}
	if _, ok := catalog.Relationship("products", "orders"); ok {
		t.Fatal("products and orders are not directly related")
	}
}

func TestResolveQuestion(t *testing.T) {
	catalog := mustDefault(t)
	res := catalog.ResolveQuestion("Show me the top 5 products by revenue")
	if len(res.Unresolved) != 0 {
		t.Fatalf("unresolved = %#v", res.Unresolved)
	}
	want := []Reference{
		{Phrase: "products", Table: "products"},
		{Phrase: "revenue", Table: "sales_data", Column: "revenue"},
	}
	if !reflect.DeepEqual(res.References, want) {
		t.Fatalf("references = %#v", res.References)
	}
	if got := res.Tables(); !reflect.DeepEqual(got, []string{"products", "sales_data"}) {
		t.Fatalf("tables = %#v", got)
	}
}

func TestResolveQuestionPrefersLongestPhrase(t *testing.T) {
	catalog := mustDefault(t)
	res := catalog.ResolveQuestion("units sold per channel")
	want := []Reference{
		{Phrase: "units sold", Table: "sales_data", Column: "quantity"},
		{Phrase: "channel", Table: "sales_data", Column: "marketplace"},
	}
	if !reflect.DeepEqual(res.References, want) {
		t.Fatalf("references = %#v", res.References)
	}
}

func TestResolveQuestionReportsUnknownWords(t *testing.T) {
	catalog := mustDefault(t)
	res := catalog.ResolveQuestion("average shoe size of customers")
	if !reflect.DeepEqual(res.Unresolved, []string{"shoe", "size"}) {
		t.Fatalf("unresolved = %#v", res.Unresolved)
	}
	if len(res.References) != 1 || res.References[0].Column != "customer_name" {
		t.Fatalf("references = %#v", res.References)
	}
}

func TestColumnNotFound(t *testing.T) {
	catalog := mustDefault(t)
	if _, err := catalog.Column("products", "weight"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Column() error = %v, want ErrNotFound", err)
	}
	if _, err := catalog.Column("inventory", "id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Column() error = %v, want ErrNotFound", err)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"duplicate alias": `
tables:
  - name: a
    aliases: [thing]
    columns: [{name: id, type: string}]
  - name: b
    aliases: [thing]
    columns: [{name: id, type: string}]
`,
		"unknown type": `
tables:
  - name: a
    columns: [{name: id, type: blob}]
`,
		"bad identifier": `
tables:
  - name: "a; drop"
    columns: [{name: id, type: string}]
`,
		"missing label column": `
tables:
  - name: a
    label_column: title
    columns: [{name: id, type: string}]
`,
		"date column wrong type": `
tables:
  - name: a
    date_column: id
    columns: [{name: id, type: string}]
`,
		"dangling relationship": `
tables:
  - name: a
    columns: [{name: id, type: string}]
relationships:
  - from: a.id
    to: b.id
`,
		"unknown field": `
tables:
  - name: a
    colums: [{name: id, type: string}]
`,
		"no tables": `tables: []`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(body)); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := `
tables:
  - name: skus
    entity: sku
    label_column: code
    aliases: [sku mapping]
    columns:
      - {name: code, type: string}
      - {name: weight, type: decimal, aliases: [weight]}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	column, err := catalog.Column("skus", "weight")
	if err != nil {
		t.Fatalf("Column() error = %v", err)
	}
	if !column.Type.Numeric() {
		t.Fatal("decimal should be numeric")
	}
	desc := catalog.Describe()
	if len(desc.Tables) != 1 || len(desc.Tables[0].Columns) != 2 {
		t.Fatalf("Describe() = %#v", desc)
	}
}
