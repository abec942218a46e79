package nl2sql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/schema"
	"github.com/wmsinsight/wmsinsight/internal/sqltext"
)

// RuleBackend templates SQL from catalog aliases without a model. It handles
// rankings, metrics by dimension, time series, totals, counts and simple
// listings, joining along catalog relationships. Input that is already SQL is
// returned verbatim so it still passes through the safety gate.
type RuleBackend struct {
	DefaultTopN int
}

func NewRuleBackend() *RuleBackend {
	return &RuleBackend{DefaultTopN: 10}
}

func (b *RuleBackend) GenerateSQL(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Catalog == nil {
		return "", fmt.Errorf("catalog is required")
	}
	if LooksLikeSQL(req.Question) {
		return strings.TrimSpace(req.Question), nil
	}
	resolution := req.Catalog.ResolveQuestion(req.Question)
	if len(resolution.Unresolved) > 0 || len(resolution.References) == 0 {
		return "", failure.Unresolvable(resolution.Unresolved)
	}
	topN := b.DefaultTopN
	if topN <= 0 {
		topN = 10
	}
	plan, err := buildPlan(req.Catalog, resolution, parseIntent(resolution.Residual, topN))
	if err != nil {
		return "", err
	}
	return plan.render(), nil
}

type intent struct {
	aggregate string
	count     bool
	rank      int
	ascending bool
	grain     string
	grainWord string
	year      int
}

var (
	rankDesc = map[string]bool{"top": true, "best": true, "highest": true, "most": true, "largest": true, "biggest": true}
	rankAsc  = map[string]bool{"bottom": true, "worst": true, "lowest": true, "least": true, "smallest": true}
	grains   = map[string]string{
		"daily": "day", "day": "day", "days": "day",
		"weekly": "week", "week": "week", "weeks": "week",
		"monthly": "month", "month": "month", "months": "month",
		"quarterly": "quarter", "quarter": "quarter", "quarters": "quarter",
		"yearly": "year", "annual": "year", "annually": "year", "year": "year", "years": "year",
		"trend": "month", "trends": "month", "time": "month",
	}
	aggregates = map[string]string{
		"average": "avg", "avg": "avg", "mean": "avg",
		"minimum": "min", "min": "min",
		"maximum": "max", "max": "max",
	}
)

// parseIntent reads ranking, aggregate and time words from the parts of the
// question that did not resolve to schema objects.
func parseIntent(words []string, topN int) intent {
	in := intent{aggregate: "sum"}
	for i, word := range words {
		switch {
		case rankDesc[word] || rankAsc[word]:
			in.ascending = rankAsc[word]
			in.rank = topN
			if n, ok := number(words, i+1); ok && n > 0 {
				in.rank = n
			} else if n, ok := number(words, i-1); ok && n > 0 && n < 1900 {
				in.rank = n
			}
		case word == "count" || word == "number" || (word == "many" && i > 0 && words[i-1] == "how"):
			in.count = true
		case aggregates[word] != "":
			in.aggregate = aggregates[word]
		case grains[word] != "" && in.grain == "":
			in.grain = grains[word]
			in.grainWord = word
		}
		if n, ok := number(words, i); ok && n >= 1900 && n <= 2100 && i > 0 {
			switch words[i-1] {
			case "in", "during", "for", "of":
				in.year = n
			}
		}
	}
	return in
}

func number(words []string, i int) (int, bool) {
	if i < 0 || i >= len(words) {
		return 0, false
	}
	n, err := strconv.Atoi(words[i])
	return n, err == nil
}

type selectItem struct {
	expr  string
	alias string
}

type join struct {
	table string
	on    string
}

type plan struct {
	base       string
	dimensions []selectItem
	measures   []selectItem
	columns    []selectItem
	joins      []join
	where      string
	orderBy    string
	limit      int
}

func buildPlan(catalog *schema.Catalog, res schema.Resolution, in intent) (*plan, error) {
	var numeric, dims []schema.Reference
	var tables []schema.Reference
	for _, ref := range res.References {
		if ref.Column == "" {
			tables = append(tables, ref)
			continue
		}
		column, err := catalog.Column(ref.Table, ref.Column)
		if err != nil {
			return nil, err
		}
		if column.Type.Numeric() && !in.count {
			numeric = append(numeric, ref)
		} else if !column.Type.Numeric() {
			dims = append(dims, ref)
		}
	}

	p := &plan{}
	switch {
	case len(numeric) > 0:
		p.base = numeric[0].Table
	case len(tables) > 0:
		p.base = tables[0].Table
	case len(dims) > 0:
		p.base = dims[0].Table
	default:
		p.base = res.References[0].Table
	}
	base, _ := catalog.Lookup(p.base)

	aliases := map[string]bool{}
	unique := func(alias, table string) string {
		if aliases[alias] {
			alias = table + "_" + alias
		}
		aliases[alias] = true
		return alias
	}

	for _, ref := range numeric {
		if ref.Table != p.base {
			return nil, failure.Unresolvable([]string{ref.Phrase})
		}
		p.measures = append(p.measures, aggregateItem(in.aggregate, ref.Table, ref.Column, unique))
	}
	if len(p.measures) == 0 && !in.count && base.Measure != "" && (len(dims) > 0 || len(tables) > 1 || in.grain != "" || in.rank > 0 || subjectIsMeasured(tables, p.base)) {
		p.measures = append(p.measures, aggregateItem(in.aggregate, base.Name, base.Measure, unique))
	}

	// time dimension
	dateTable, dateColumn := "", ""
	for _, ref := range dims {
		column, _ := catalog.Column(ref.Table, ref.Column)
		if column.Type == schema.TypeDate && in.grain != "" {
			dateTable, dateColumn = ref.Table, ref.Column
			break
		}
	}
	if (in.grain != "" || in.year != 0) && dateColumn == "" {
		dateTable, dateColumn = findDateColumn(catalog, p.base)
		if dateColumn == "" {
			token := in.grainWord
			if token == "" {
				token = strconv.Itoa(in.year)
			}
			return nil, failure.Unresolvable([]string{token})
		}
	}
	if in.grain != "" {
		alias := unique(in.grain, dateTable)
		p.dimensions = append(p.dimensions, selectItem{
			expr:  fmt.Sprintf("DATE_TRUNC('%s', %s.%s)", in.grain, dateTable, dateColumn),
			alias: alias,
		})
		p.orderBy = ident(alias) + " ASC"
	}
	if in.year != 0 {
		p.where = fmt.Sprintf("date_part('year', %s.%s) = %d", dateTable, dateColumn, in.year)
	}

	needJoin := map[string]string{}
	if dateTable != "" && dateTable != p.base {
		needJoin[dateTable] = in.grainWord
	}
	for _, ref := range dims {
		if in.grain != "" && ref.Table == dateTable && ref.Column == dateColumn {
			continue
		}
		p.dimensions = append(p.dimensions, selectItem{
			expr:  ref.Table + "." + ref.Column,
			alias: unique(ref.Column, ref.Table),
		})
		if ref.Table != p.base {
			needJoin[ref.Table] = ref.Phrase
		}
	}
	for _, ref := range tables {
		if ref.Table == p.base {
			continue
		}
		table, _ := catalog.Lookup(ref.Table)
		if table.LabelColumn == "" {
			continue
		}
		p.dimensions = append(p.dimensions, selectItem{
			expr:  table.Name + "." + table.LabelColumn,
			alias: unique(table.Entity, table.Name),
		})
		needJoin[table.Name] = ref.Phrase
	}

	for _, ref := range res.References {
		phrase, ok := needJoin[ref.Table]
		if !ok {
			continue
		}
		delete(needJoin, ref.Table)
		rel, found := catalog.Relationship(p.base, ref.Table)
		if !found {
			return nil, failure.Unresolvable([]string{phrase})
		}
		p.joins = append(p.joins, join{
			table: ref.Table,
			on:    fmt.Sprintf("%s.%s = %s.%s", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn),
		})
	}
	for table, phrase := range needJoin {
		// date column reached through a related table
		rel, found := catalog.Relationship(p.base, table)
		if !found {
			return nil, failure.Unresolvable([]string{phrase})
		}
		p.joins = append(p.joins, join{
			table: table,
			on:    fmt.Sprintf("%s.%s = %s.%s", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn),
		})
	}

	if len(p.measures) == 0 && (in.count || len(p.dimensions) > 0) {
		p.measures = append(p.measures, selectItem{expr: "COUNT(*)", alias: unique(base.Entity+"_count", base.Name)})
	}

	if len(p.measures) == 0 {
		// plain listing
		for _, column := range base.Columns {
			p.columns = append(p.columns, selectItem{expr: base.Name + "." + column.Name})
		}
		if base.LabelColumn != "" {
			p.orderBy = base.Name + "." + base.LabelColumn
		}
		if in.rank > 0 {
			p.limit = in.rank
		}
		return p, nil
	}

	switch {
	case in.rank > 0:
		direction := "DESC"
		if in.ascending {
			direction = "ASC"
		}
		p.orderBy = ident(p.measures[0].alias) + " " + direction
		p.limit = in.rank
	case in.grain != "":
	case len(p.dimensions) > 0:
		p.orderBy = ident(p.measures[0].alias) + " DESC"
	}
	return p, nil
}

// subjectIsMeasured reports whether the base table was named on its own, as
// in "total sales", so its default measure applies.
func subjectIsMeasured(tables []schema.Reference, base string) bool {
	for _, ref := range tables {
		if ref.Table == base {
			return true
		}
	}
	return false
}

func aggregateItem(aggregate, table, column string, unique func(alias, table string) string) selectItem {
	fn := strings.ToUpper(aggregate)
	alias := column
	if aggregate != "sum" {
		alias = aggregate + "_" + column
	}
	return selectItem{
		expr:  fmt.Sprintf("%s(%s.%s)", fn, table, column),
		alias: unique(alias, table),
	}
}

func findDateColumn(catalog *schema.Catalog, base string) (string, string) {
	if table, ok := catalog.Lookup(base); ok && table.DateColumn != "" {
		return table.Name, table.DateColumn
	}
	for _, rel := range catalog.Relationships() {
		other := ""
		switch base {
		case rel.FromTable:
			other = rel.ToTable
		case rel.ToTable:
			other = rel.FromTable
		default:
			continue
		}
		if table, ok := catalog.Lookup(other); ok && table.DateColumn != "" {
			return table.Name, table.DateColumn
		}
	}
	return "", ""
}

func (p *plan) render() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	items := p.columns
	if len(items) == 0 {
		items = append(append([]selectItem{}, p.dimensions...), p.measures...)
	}
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(item.expr)
		if item.alias != "" {
			b.WriteString(" AS ")
			b.WriteString(ident(item.alias))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(p.base)
	for _, j := range p.joins {
		fmt.Fprintf(&b, " JOIN %s ON %s", j.table, j.on)
	}
	if p.where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(p.where)
	}
	if len(p.columns) == 0 && len(p.dimensions) > 0 {
		b.WriteString(" GROUP BY ")
		for i, dim := range p.dimensions {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(dim.expr)
		}
	}
	if p.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(p.orderBy)
	}
	if p.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.limit)
	}
	return b.String()
}

func ident(name string) string {
	if sqltext.IsReserved(name) {
		return `"` + name + `"`
	}
	return name
}
