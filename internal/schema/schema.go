// Package schema holds the static catalog of warehouse tables that questions
// are translated against. A Catalog is immutable once loaded and safe for
// concurrent readers without locking.
package schema

import (
	"sort"
	"strings"
)

type SemanticType string

const (
	TypeString   SemanticType = "string"
	TypeInteger  SemanticType = "integer"
	TypeDecimal  SemanticType = "decimal"
	TypeDate     SemanticType = "date"
	TypeCurrency SemanticType = "currency"
)

// Numeric reports whether values of this type can be aggregated with SUM/AVG.
func (t SemanticType) Numeric() bool {
	switch t {
	case TypeInteger, TypeDecimal, TypeCurrency:
		return true
	default:
		return false
	}
}

type Column struct {
	Name    string
	Type    SemanticType
	Aliases []string
}

type Table struct {
	Name        string
	Description string
	// Entity is the singular business noun for a row ("product").
	Entity string
	// LabelColumn names rows of this table when it is used as a grouping dimension.
	LabelColumn string
	// DateColumn is the column used for time-series questions.
	DateColumn string
	// Measure is the numeric column aggregated when the table itself is the
	// subject of a metric question ("sales by channel").
	Measure string
	// Source is the object key of the parquet file backing this table, if any.
	Source  string
	Aliases []string
	Columns []Column
}

func (t Table) Column(name string) (Column, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

type target struct {
	table  string
	column string
}

type Catalog struct {
	tables        []Table
	byName        map[string]int
	aliases       map[string]target
	relationships []Relationship
}

func (c *Catalog) Tables() []Table {
	out := make([]Table, len(c.tables))
	copy(out, c.tables)
	return out
}

func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for _, table := range c.tables {
		names = append(names, table.Name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Lookup(name string) (Table, bool) {
	index, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Table{}, false
	}
	return c.tables[index], true
}

func (c *Catalog) HasColumn(table, column string) bool {
	t, ok := c.Lookup(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}

// ResolveAlias maps a business term to a table, or to a table column. column
// is empty when the token names a whole table.
func (c *Catalog) ResolveAlias(token string) (table, column string, ok bool) {
	key := normalizePhrase(token)
	if key == "" {
		return "", "", false
	}
	if hit, found := c.aliases[key]; found {
		return hit.table, hit.column, true
	}
	for _, singular := range singularForms(key) {
		if hit, found := c.aliases[singular]; found {
			return hit.table, hit.column, true
		}
	}
	return "", "", false
}

func (c *Catalog) Relationships() []Relationship {
	out := make([]Relationship, len(c.relationships))
	copy(out, c.relationships)
	return out
}

// Relationship finds a join path between two tables in either direction.
func (c *Catalog) Relationship(a, b string) (Relationship, bool) {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	for _, rel := range c.relationships {
		if (rel.FromTable == a && rel.ToTable == b) || (rel.FromTable == b && rel.ToTable == a) {
			return rel, true
		}
	}
	return Relationship{}, false
}

func normalizePhrase(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, "_", " ")
	return strings.Join(strings.Fields(value), " ")
}

func singularForms(value string) []string {
	var forms []string
	switch {
	case strings.HasSuffix(value, "ies") && len(value) > 3:
		forms = append(forms, strings.TrimSuffix(value, "ies")+"y")
	case strings.HasSuffix(value, "es") && len(value) > 2:
		forms = append(forms, strings.TrimSuffix(value, "es"))
		forms = append(forms, strings.TrimSuffix(value, "s"))
	case strings.HasSuffix(value, "s") && len(value) > 1:
		forms = append(forms, strings.TrimSuffix(value, "s"))
	}
	return forms
}
