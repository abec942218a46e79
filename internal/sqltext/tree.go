package sqltext

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/sql"
)

// Node types of the tree-sitter SQL grammar the structure walk relies on.
const (
	nodeAllFields  = "all_fields"
	nodeCTE        = "cte"
	nodeError      = "ERROR"
	nodeField      = "field"
	nodeFrom       = "from"
	nodeIdentifier = "identifier"
	nodeInvocation = "invocation"
	nodeList       = "list"
	nodeLiteral    = "literal"
	nodeObjectRef  = "object_reference"
	nodeRelation   = "relation"
	nodeSelect     = "select"
	nodeSelectExpr = "select_expression"
	nodeStatement  = "statement"
	nodeSubquery   = "subquery"
	nodeTerm       = "term"
)

// parse builds the syntax tree and records the relations and column
// references it contains.
func (a *Analysis) parse(ctx context.Context) error {
	content := []byte(a.text)
	parser := sitter.NewParser()
	parser.SetLanguage(sql.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		a.SyntaxError = syntaxError(root, content)
	}
	w := &walker{a: a, content: content}
	w.visit(root)
	return nil
}

// syntaxError locates the first ERROR or MISSING node for the message.
func syntaxError(root *sitter.Node, content []byte) error {
	var found *sitter.Node
	var find func(n *sitter.Node)
	find = func(n *sitter.Node) {
		if found != nil || n == nil {
			return
		}
		if n.Type() == nodeError || n.IsMissing() {
			found = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			find(n.Child(i))
		}
	}
	find(root)
	if found == nil {
		return fmt.Errorf("sql syntax error")
	}
	if found.IsMissing() {
		return fmt.Errorf("sql syntax error: missing %s at offset %d", found.Type(), found.StartByte())
	}
	near := strings.TrimSpace(found.Content(content))
	if len(near) > 40 {
		near = near[:40]
	}
	return fmt.Errorf("sql syntax error at offset %d near %q", found.StartByte(), near)
}

type walker struct {
	a       *Analysis
	content []byte
}

func (w *walker) visit(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case nodeCTE:
		w.cte(n)
	case nodeRelation:
		w.relation(n)
	case nodeField:
		w.field(n)
		return
	case nodeTerm:
		w.term(n)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.visit(n.NamedChild(i))
	}
}

func (w *walker) cte(n *sitter.Node) {
	var idents []string
	var body *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case nodeIdentifier:
			idents = append(idents, w.ident(child))
		case nodeStatement, nodeSubquery:
			if body == nil {
				body = child
			}
		}
	}
	if len(idents) == 0 {
		return
	}
	name := idents[0]
	w.a.CTEs = appendUnique(w.a.CTEs, name)
	rel := w.outputs(name, body)
	if args := idents[1:]; len(args) > 0 {
		for _, arg := range args {
			w.a.OutputAliases = appendUnique(w.a.OutputAliases, arg)
		}
		rel.Columns = args
		rel.Stars = nil
		rel.Opaque = false
	}
	w.a.Relations[name] = rel
}

func (w *walker) relation(n *sitter.Node) {
	source := n.NamedChild(0)
	if source == nil {
		return
	}
	alias := w.alias(n)
	switch source.Type() {
	case nodeObjectRef:
		schema, name := w.objectName(source)
		w.a.Tables = append(w.a.Tables, TableRef{Schema: schema, Name: name, Alias: alias})
		return
	case nodeSubquery:
		if alias == "" {
			return
		}
		w.a.DerivedAliases = appendUnique(w.a.DerivedAliases, alias)
		rel := w.outputs(alias, source)
		if columns := w.columnList(n); len(columns) > 0 {
			rel.Columns, rel.Stars, rel.Opaque = columns, nil, false
		}
		w.a.Relations[alias] = rel
	case nodeInvocation:
		if alias != "" {
			w.a.DerivedAliases = appendUnique(w.a.DerivedAliases, alias)
			w.a.Relations[alias] = &Relation{Name: alias, Opaque: true}
		}
	case nodeLiteral:
		w.a.FileScans = appendUnique(w.a.FileScans, strings.Trim(source.Content(w.content), "'"))
	}
}

func (w *walker) field(n *sitter.Node) {
	ref := ColumnRef{}
	var idents []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case nodeObjectRef:
			_, ref.Qualifier = w.objectName(child)
		case nodeIdentifier:
			idents = append(idents, w.ident(child))
		}
	}
	if name := n.ChildByFieldName("name"); name != nil && name.Type() == nodeIdentifier {
		ref.Name = w.ident(name)
	} else if len(idents) > 0 {
		ref.Name = idents[len(idents)-1]
	}
	if ref.Qualifier == "" && len(idents) > 1 {
		ref.Qualifier = idents[len(idents)-2]
	}
	if ref.Name != "" {
		w.a.Columns = append(w.a.Columns, ref)
	}
}

// term records projection aliases and * projections of select lists.
func (w *walker) term(n *sitter.Node) {
	if alias := w.alias(n); alias != "" {
		w.a.OutputAliases = appendUnique(w.a.OutputAliases, alias)
	}
	if !isProjection(n) {
		return
	}
	if value := termValue(n); value != nil && value.Type() == nodeAllFields {
		w.a.Wildcards = append(w.a.Wildcards, Wildcard{Qualifier: w.starQualifier(value)})
	}
}

// outputs derives the columns a query body exposes from its first select list.
func (w *walker) outputs(name string, body *sitter.Node) *Relation {
	rel := &Relation{Name: name}
	sel := findQuery(body, nodeSelect)
	if sel == nil {
		rel.Opaque = true
		return rel
	}
	scope, order := w.localScope(sel.Parent())
	list := sel
	for i := 0; i < int(sel.NamedChildCount()); i++ {
		if child := sel.NamedChild(i); child.Type() == nodeSelectExpr {
			list = child
			break
		}
	}
	for i := 0; i < int(list.NamedChildCount()); i++ {
		term := list.NamedChild(i)
		if term.Type() != nodeTerm {
			continue
		}
		value := termValue(term)
		switch alias := w.alias(term); {
		case value != nil && value.Type() == nodeAllFields:
			qualifier := w.starQualifier(value)
			if qualifier == "" {
				rel.Stars = append(rel.Stars, order...)
				continue
			}
			if source, ok := scope[qualifier]; ok {
				rel.Stars = append(rel.Stars, source)
			} else {
				rel.Stars = append(rel.Stars, qualifier)
			}
		case alias != "":
			rel.Columns = appendUnique(rel.Columns, alias)
		case value != nil && value.Type() == nodeField:
			if column := w.fieldName(value); column != "" {
				rel.Columns = appendUnique(rel.Columns, column)
			}
		}
	}
	return rel
}

// localScope maps the qualifiers of the FROM clause beside a select list to
// the relation each denotes: a base table name, a CTE name or a subquery
// alias. Order lists the relations as written, for unqualified *.
func (w *walker) localScope(query *sitter.Node) (map[string]string, []string) {
	scope := map[string]string{}
	var order []string
	from := findQuery(query, nodeFrom)
	if from == nil {
		return scope, order
	}
	var collect func(n *sitter.Node)
	collect = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case nodeSubquery, nodeCTE:
				continue
			case nodeRelation:
				source := child.NamedChild(0)
				alias := w.alias(child)
				name := alias
				if source != nil && source.Type() == nodeObjectRef {
					_, name = w.objectName(source)
				}
				if name == "" {
					continue
				}
				order = append(order, name)
				scope[name] = name
				if alias != "" {
					scope[alias] = name
				}
				continue
			}
			collect(child)
		}
	}
	collect(from)
	return scope, order
}

// alias reads the alias field of a term or relation. Older grammar versions
// expose it as a bare identifier child instead.
func (w *walker) alias(n *sitter.Node) string {
	if alias := n.ChildByFieldName("alias"); alias != nil {
		return w.ident(alias)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == nodeIdentifier {
			return w.ident(child)
		}
	}
	return ""
}

func (w *walker) columnList(n *sitter.Node) []string {
	var columns []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != nodeList {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			item := child.NamedChild(j)
			switch item.Type() {
			case nodeIdentifier:
				columns = append(columns, w.ident(item))
			case nodeField:
				columns = append(columns, w.fieldName(item))
			}
		}
	}
	return columns
}

// objectName splits an object_reference into its schema prefix and name.
func (w *walker) objectName(n *sitter.Node) (string, string) {
	var parts []string
	for _, field := range []string{"database", "schema"} {
		if child := n.ChildByFieldName(field); child != nil {
			parts = append(parts, w.ident(child))
		}
	}
	if name := n.ChildByFieldName("name"); name != nil {
		return strings.Join(parts, "."), w.ident(name)
	}
	var idents []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == nodeIdentifier {
			idents = append(idents, w.ident(child))
		}
	}
	if len(idents) == 0 {
		return "", w.ident(n)
	}
	last := len(idents) - 1
	return strings.Join(idents[:last], "."), idents[last]
}

func (w *walker) fieldName(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil && name.Type() == nodeIdentifier {
		return w.ident(name)
	}
	name := ""
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == nodeIdentifier {
			name = w.ident(child)
		}
	}
	return name
}

func (w *walker) starQualifier(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case nodeObjectRef:
			_, name := w.objectName(child)
			return name
		case nodeIdentifier:
			return w.ident(child)
		}
	}
	return ""
}

// ident returns an identifier lower-cased with its quotes removed.
func (w *walker) ident(n *sitter.Node) string {
	text := strings.TrimSpace(n.Content(w.content))
	if len(text) >= 2 {
		switch quote := text[0]; {
		case (quote == '"' || quote == '`') && text[len(text)-1] == quote:
			q := string(quote)
			text = strings.ReplaceAll(text[1:len(text)-1], q+q, q)
		}
	}
	return strings.ToLower(text)
}

func termValue(n *sitter.Node) *sitter.Node {
	if value := n.ChildByFieldName("value"); value != nil {
		return value
	}
	return n.NamedChild(0)
}

// isProjection reports whether a term is an item of a select list rather than
// a function argument.
func isProjection(term *sitter.Node) bool {
	parent := term.Parent()
	return parent != nil && (parent.Type() == nodeSelectExpr || parent.Type() == nodeSelect)
}

// findQuery returns the first node of the given type under n without
// descending into nested subqueries or CTE bodies.
func findQuery(n *sitter.Node, nodeType string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == nodeType {
			return child
		}
		if child.Type() == nodeSubquery || child.Type() == nodeCTE {
			continue
		}
		if found := findQuery(child, nodeType); found != nil {
			return found
		}
	}
	return nil
}
