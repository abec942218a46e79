package sqltext

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// TableRef is a relation named in a FROM or JOIN clause.
type TableRef struct {
	Schema string
	Name   string
	Alias  string
}

// ColumnRef is an identifier used as a column. Qualifier is the table name or
// alias written before the dot, if any.
type ColumnRef struct {
	Qualifier string
	Name      string
}

func (c ColumnRef) String() string {
	if c.Qualifier == "" {
		return c.Name
	}
	return c.Qualifier + "." + c.Name
}

// Wildcard is a * projection; Qualifier is set for t.*.
type Wildcard struct {
	Qualifier string
}

// Relation is a CTE or aliased subquery and the columns it exposes.
type Relation struct {
	Name string
	// Columns are the named outputs: aliases, plain column projections and
	// CTE or alias column lists.
	Columns []string
	// Stars names the relations (base tables, CTEs or subquery aliases)
	// whose columns a * or t.* projection passes through.
	Stars []string
	// Opaque is set for table functions and queries whose outputs could not
	// be derived.
	Opaque bool
}

// Limit describes the LIMIT clause of the outermost query.
type Limit struct {
	Present bool
	// Literal is true when the limit is a single non-negative integer.
	Literal bool
	Value   int
	start   int
	end     int
}

type Analysis struct {
	// Statements counts non-empty statements separated by semicolons.
	Statements int
	// Leading is the first keyword of the first statement, upper-cased.
	Leading  string
	Comments int
	// Forbidden lists distinct forbidden keywords in order of appearance.
	Forbidden      []string
	Tables         []TableRef
	Columns        []ColumnRef
	OutputAliases  []string
	CTEs           []string
	DerivedAliases []string
	Relations      map[string]*Relation
	Functions      []string
	Wildcards      []Wildcard
	// FileScans lists string literals used as relations (FROM 'file.csv').
	FileScans []string
	Limit     Limit
	// Unbalanced is set when parentheses do not pair up.
	Unbalanced bool
	// SyntaxError is set when the SQL grammar could not parse the text
	// cleanly. Structural fields are then incomplete.
	SyntaxError error

	text    string
	bodyEnd int
}

// Body returns the statement text without trailing terminators, trailing
// comments or surrounding whitespace.
func (a *Analysis) Body() string {
	return strings.TrimSpace(a.text[:a.bodyEnd])
}

// WithLimit returns Body with the outermost LIMIT set to n. A literal limit is
// replaced in place; when no LIMIT exists one is appended.
func (a *Analysis) WithLimit(n int) string {
	value := strconv.Itoa(n)
	if a.Limit.Present && a.Limit.Literal {
		return strings.TrimSpace(a.text[:a.Limit.start] + value + a.text[a.Limit.end:a.bodyEnd])
	}
	return a.Body() + " LIMIT " + value
}

// IsCTE reports whether name is defined by a WITH clause.
func (a *Analysis) IsCTE(name string) bool {
	return contains(a.CTEs, strings.ToLower(name))
}

// IsDerived reports whether name aliases a subquery or table function.
func (a *Analysis) IsDerived(name string) bool {
	return contains(a.DerivedAliases, strings.ToLower(name))
}

// IsOutputAlias reports whether name is a projection alias or CTE column.
func (a *Analysis) IsOutputAlias(name string) bool {
	return contains(a.OutputAliases, strings.ToLower(name))
}

// Relation returns the CTE or subquery a qualifier denotes, following table
// aliases of CTE references (FROM monthly m).
func (a *Analysis) Relation(qualifier string) (*Relation, bool) {
	qualifier = strings.ToLower(qualifier)
	if rel, ok := a.Relations[qualifier]; ok {
		return rel, true
	}
	for _, ref := range a.Tables {
		if ref.Schema == "" && ref.Alias == qualifier && a.IsCTE(ref.Name) {
			rel, ok := a.Relations[ref.Name]
			return rel, ok
		}
	}
	return nil, false
}

// TableNames returns the distinct base tables referenced, sorted, with CTE
// references excluded.
func (a *Analysis) TableNames() []string {
	seen := map[string]struct{}{}
	for _, ref := range a.Tables {
		if ref.Schema == "" && a.IsCTE(ref.Name) {
			continue
		}
		seen[ref.Name] = struct{}{}
	}
	return sortedKeys(seen)
}

// Scope maps every qualifier usable in the statement (table names and table
// aliases) to the base table it denotes.
func (a *Analysis) Scope() map[string]string {
	scope := map[string]string{}
	for _, ref := range a.Tables {
		if ref.Schema == "" && a.IsCTE(ref.Name) {
			continue
		}
		scope[ref.Name] = ref.Name
		if ref.Alias != "" {
			scope[ref.Alias] = ref.Name
		}
	}
	return scope
}

// QualifiedColumns resolves each column reference to table.column where the
// qualifier, or a unique owning table for bare names, can be determined.
// Everything else is reported by bare name. The result is sorted and unique.
func (a *Analysis) QualifiedColumns(hasColumn func(table, column string) bool) []string {
	scope := a.Scope()
	tables := a.TableNames()
	seen := map[string]struct{}{}
	for _, ref := range a.Columns {
		if ref.Qualifier != "" {
			if table, ok := scope[ref.Qualifier]; ok {
				seen[table+"."+ref.Name] = struct{}{}
				continue
			}
			seen[ref.Name] = struct{}{}
			continue
		}
		var owners []string
		for _, table := range tables {
			if hasColumn(table, ref.Name) {
				owners = append(owners, table)
			}
		}
		if len(owners) == 1 {
			seen[owners[0]+"."+ref.Name] = struct{}{}
		} else {
			seen[ref.Name] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Analyze lexes sql for the statement-level facts (terminators, comments,
// forbidden keywords, the outermost LIMIT) and parses it with the tree-sitter
// SQL grammar for tables, columns, aliases, CTEs and subqueries.
func Analyze(sql string) (*Analysis, error) {
	return AnalyzeContext(context.Background(), sql)
}

func AnalyzeContext(ctx context.Context, sql string) (*Analysis, error) {
	tokens, err := Lex(sql)
	if err != nil {
		return nil, err
	}
	a := &Analysis{text: sql, Relations: map[string]*Relation{}}
	a.scan(tokens)
	if err := a.parse(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// scan walks the token stream once. Depth tracks parentheses so that only a
// LIMIT of the outermost query is recorded.
func (a *Analysis) scan(tokens []Token) {
	code := make([]Token, 0, len(tokens))
	segment := false
	for _, tok := range tokens {
		if tok.Kind == Comment {
			a.Comments++
			continue
		}
		if tok.Is(";") {
			if segment {
				a.Statements++
			}
			segment = false
		} else {
			segment = true
			a.bodyEnd = tok.End
		}
		code = append(code, tok)
	}
	if segment {
		a.Statements++
	}

	depth := 0
	peek := func(i int) Token {
		if i < len(code) {
			return code[i]
		}
		return Token{Kind: Symbol}
	}
	for i, tok := range code {
		switch {
		case tok.Is("("):
			depth++
		case tok.Is(")"):
			if depth == 0 {
				a.Unbalanced = true
				continue
			}
			depth--
		case tok.Is(";"):
			if depth != 0 {
				a.Unbalanced = true
			}
			depth = 0
		case tok.Kind == String && i > 0 && (code[i-1].IsKeyword("FROM") || code[i-1].IsKeyword("JOIN")):
			a.FileScans = append(a.FileScans, tok.Text)
		case tok.Kind == Word:
			upper := tok.Upper()
			if a.Leading == "" {
				a.Leading = upper
			}
			if IsForbidden(upper) && !contains(a.Forbidden, upper) {
				a.Forbidden = append(a.Forbidden, upper)
			}
			if peek(i+1).Is("(") && !isReserved(upper) {
				a.Functions = appendUnique(a.Functions, functionName(code, i))
			}
			if depth == 0 && upper == "LIMIT" {
				a.Limit = rootLimit(peek(i+1), peek(i+2))
			}
			if depth == 0 && upper == "FETCH" {
				a.Limit = Limit{Present: true}
			}
		case tok.Kind == QuotedIdent && peek(i+1).Is("("):
			a.Functions = appendUnique(a.Functions, functionName(code, i))
		}
	}
	if depth != 0 {
		a.Unbalanced = true
	}
}

// functionName joins a dotted call target such as main.sum ending at code[i].
func functionName(code []Token, i int) string {
	parts := []string{strings.ToLower(code[i].Text)}
	for i >= 2 && code[i-1].Is(".") && (code[i-2].Kind == Word || code[i-2].Kind == QuotedIdent) {
		parts = append([]string{strings.ToLower(code[i-2].Text)}, parts...)
		i -= 2
	}
	return strings.Join(parts, ".")
}

// rootLimit records the outermost LIMIT. Only a bare integer followed by the
// end of the statement or OFFSET counts as a literal.
func rootLimit(value, after Token) Limit {
	limit := Limit{Present: true}
	if value.Kind == Number && !strings.ContainsAny(value.Text, ".eE") &&
		(after.Text == "" || after.Is(";") || after.IsKeyword("OFFSET")) {
		if n, err := strconv.Atoi(value.Text); err == nil {
			limit.Literal = true
			limit.Value = n
			limit.start = value.Start
			limit.end = value.End
		}
	}
	return limit
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func appendUnique(values []string, value string) []string {
	if value == "" || contains(values, value) {
		return values
	}
	return append(values, value)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
