// Package policy decides whether a generated SELECT may run against the
// warehouse and rewrites it to carry an enforced row limit.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wmsinsight/wmsinsight/internal/failure"
	"github.com/wmsinsight/wmsinsight/internal/grants"
	"github.com/wmsinsight/wmsinsight/internal/nl2sql"
	"github.com/wmsinsight/wmsinsight/internal/schema"
	"github.com/wmsinsight/wmsinsight/internal/sqltext"
)

// Rule ids reported in POLICY_VIOLATION errors.
const (
	RuleReadOnlySelect = "read_only_select"
	RuleKnownTables    = "known_tables"
	RuleKnownColumns   = "known_columns"
	RuleGrantedTables  = "granted_tables"
	RuleRowLimit       = "row_limit"
)

const DefaultMaxRows = 1000

// Rules lists the checks in evaluation order.
var Rules = []string{RuleReadOnlySelect, RuleKnownTables, RuleKnownColumns, RuleGrantedTables, RuleRowLimit}

type Config struct {
	MaxRows int
	// DeniedFunctions extends the built-in list of file and system functions.
	DeniedFunctions []string
}

// Validated is a statement that passed every rule. SQL carries the enforced
// LIMIT and no trailing terminator.
type Validated struct {
	SQL string
	// ExecSQL is the statement handed to the executor. When the validator
	// enforces the limit it asks for one row past RowLimit, so that a result
	// cut at the cap is reported as truncated.
	ExecSQL        string
	Tables         []string
	Columns        []string
	RowLimit       int
	LimitRewritten bool
}

type Validator struct {
	catalog *schema.Catalog
	maxRows int
	denied  map[string]struct{}
}

func NewValidator(catalog *schema.Catalog, cfg Config) (*Validator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	denied := make(map[string]struct{}, len(deniedFunctions)+len(cfg.DeniedFunctions))
	for _, name := range deniedFunctions {
		denied[name] = struct{}{}
	}
	for _, name := range cfg.DeniedFunctions {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			denied[name] = struct{}{}
		}
	}
	return &Validator{catalog: catalog, maxRows: maxRows, denied: denied}, nil
}

func (v *Validator) MaxRows() int {
	return v.maxRows
}

// Validate runs the rules in order and stops at the first violation.
func (v *Validator) Validate(candidate nl2sql.CandidateQuery, granted grants.TableSet) (Validated, error) {
	analysis, err := sqltext.Analyze(candidate.SQL)
	if err != nil {
		return Validated{}, failure.PolicyViolation(RuleReadOnlySelect, "statement could not be parsed: "+err.Error())
	}
	if err := v.readOnlySelect(analysis); err != nil {
		return Validated{}, err
	}
	if err := v.knownTables(analysis); err != nil {
		return Validated{}, err
	}
	if err := v.knownColumns(analysis); err != nil {
		return Validated{}, err
	}
	tables := analysis.TableNames()
	for _, table := range tables {
		if !granted.Allows(table) {
			return Validated{}, failure.PolicyViolation(RuleGrantedTables, fmt.Sprintf("table %q is not granted to this credential", table))
		}
	}

	out := Validated{
		Tables:  tables,
		Columns: analysis.QualifiedColumns(v.catalog.HasColumn),
	}
	switch limit := analysis.Limit; {
	case limit.Present && !limit.Literal:
		return Validated{}, failure.PolicyViolation(RuleRowLimit, "LIMIT must be a single integer literal")
	case limit.Present && limit.Value <= v.maxRows:
		out.SQL = analysis.Body()
		out.ExecSQL = out.SQL
		out.RowLimit = limit.Value
	default:
		out.SQL = analysis.WithLimit(v.maxRows)
		out.ExecSQL = analysis.WithLimit(v.maxRows + 1)
		out.RowLimit = v.maxRows
		out.LimitRewritten = true
	}
	return out, nil
}

func (v *Validator) readOnlySelect(a *sqltext.Analysis) error {
	violation := func(message string) error {
		return failure.PolicyViolation(RuleReadOnlySelect, message)
	}
	switch {
	case a.Statements != 1:
		return violation(fmt.Sprintf("expected exactly one statement, found %d", a.Statements))
	case a.Leading != "SELECT" && a.Leading != "WITH":
		return violation("statement must start with SELECT or WITH")
	case len(a.Forbidden) > 0:
		return violation("forbidden keyword " + strings.Join(a.Forbidden, ", "))
	case a.Comments > 0:
		return violation("comments are not allowed")
	case a.Unbalanced:
		return violation("unbalanced parentheses")
	case a.SyntaxError != nil:
		return violation("statement could not be parsed: " + a.SyntaxError.Error())
	case len(a.FileScans) > 0:
		return violation(fmt.Sprintf("file scan %s is not allowed", a.FileScans[0]))
	}
	for _, name := range a.Functions {
		if v.deniedFunction(name) {
			return violation(fmt.Sprintf("function %s is not allowed", name))
		}
	}
	return nil
}

func (v *Validator) deniedFunction(name string) bool {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		// schema-qualified calls are system catalog access
		if prefix := name[:i]; prefix != "main" {
			return true
		}
		name = name[i+1:]
	}
	if _, ok := v.denied[name]; ok {
		return true
	}
	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (v *Validator) knownTables(a *sqltext.Analysis) error {
	for _, ref := range a.Tables {
		if ref.Schema == "" && a.IsCTE(ref.Name) {
			continue
		}
		if ref.Schema != "" && ref.Schema != "main" && ref.Schema != "public" {
			return failure.PolicyViolation(RuleKnownTables, fmt.Sprintf("table %s.%s is outside the warehouse schema", ref.Schema, ref.Name))
		}
		if _, ok := v.catalog.Lookup(ref.Name); !ok {
			return failure.PolicyViolation(RuleKnownTables, fmt.Sprintf("unknown table %q", ref.Name))
		}
	}
	qualifiers := make([]string, 0, len(a.Columns)+len(a.Wildcards))
	for _, ref := range a.Columns {
		qualifiers = append(qualifiers, ref.Qualifier)
	}
	for _, wildcard := range a.Wildcards {
		qualifiers = append(qualifiers, wildcard.Qualifier)
	}
	scope := a.Scope()
	for _, qualifier := range qualifiers {
		if qualifier == "" {
			continue
		}
		if _, ok := scope[qualifier]; ok || localRelation(a, qualifier) {
			continue
		}
		return failure.PolicyViolation(RuleKnownTables, fmt.Sprintf("unknown table or alias %q", qualifier))
	}
	return nil
}

// localRelation reports whether name is a CTE, an alias of one, or a
// subquery or table function alias.
func localRelation(a *sqltext.Analysis, name string) bool {
	if a.IsCTE(name) || a.IsDerived(name) {
		return true
	}
	for _, ref := range a.Tables {
		if ref.Schema == "" && ref.Alias == name && a.IsCTE(ref.Name) {
			return true
		}
	}
	return false
}

func (v *Validator) knownColumns(a *sqltext.Analysis) error {
	scope := a.Scope()
	tables := a.TableNames()
	var unknown []string
	for _, ref := range a.Columns {
		if ref.Qualifier != "" {
			if table, ok := scope[ref.Qualifier]; ok {
				if !v.catalog.HasColumn(table, ref.Name) {
					unknown = append(unknown, table+"."+ref.Name)
				}
				continue
			}
			rel, ok := a.Relation(ref.Qualifier)
			if !ok {
				continue
			}
			columns, known := v.relationColumns(a, rel, map[string]bool{})
			if _, found := columns[ref.Name]; known && !found {
				unknown = append(unknown, ref.String())
			}
			continue
		}
		if a.IsOutputAlias(ref.Name) || isNiladicFunction(ref.Name) {
			continue
		}
		found := false
		for _, table := range tables {
			if v.catalog.HasColumn(table, ref.Name) {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, ref.Name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return failure.PolicyViolation(RuleKnownColumns, "unknown column "+strings.Join(dedupe(unknown), ", "))
}

// relationColumns lists the columns a CTE or subquery exposes, expanding *
// projections through nested relations down to catalog tables. Known is false
// when any source is opaque, such as a table function.
func (v *Validator) relationColumns(a *sqltext.Analysis, rel *sqltext.Relation, visiting map[string]bool) (map[string]struct{}, bool) {
	columns := make(map[string]struct{}, len(rel.Columns))
	if rel.Opaque {
		return columns, false
	}
	for _, name := range rel.Columns {
		columns[name] = struct{}{}
	}
	visiting[rel.Name] = true
	defer delete(visiting, rel.Name)
	for _, source := range rel.Stars {
		if inner, ok := a.Relations[source]; ok && !visiting[source] {
			nested, known := v.relationColumns(a, inner, visiting)
			if !known {
				return columns, false
			}
			for name := range nested {
				columns[name] = struct{}{}
			}
			continue
		}
		table, ok := v.catalog.Lookup(source)
		if !ok {
			return columns, false
		}
		for _, column := range table.Columns {
			columns[column.Name] = struct{}{}
		}
	}
	return columns, true
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, value := range sorted {
		if i == 0 || value != sorted[i-1] {
			out = append(out, value)
		}
	}
	return out
}
