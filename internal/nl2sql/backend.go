package nl2sql

import (
	"context"
	"errors"

	"github.com/wmsinsight/wmsinsight/internal/schema"
	"github.com/wmsinsight/wmsinsight/internal/sqltext"
)

// ErrCredentialRequired is returned by backends that need a caller credential
// when none was supplied.
var ErrCredentialRequired = errors.New("translation credential is required")

// Request is what a Backend sees. Credential is forwarded untouched and must
// never be logged or persisted.
type Request struct {
	Question   string
	Catalog    *schema.Catalog
	Credential string
	Dialect    string
	MaxRows    int
}

// Backend turns a question into SQL text over the given catalog.
type Backend interface {
	GenerateSQL(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) GenerateSQL(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// CandidateQuery is backend output that passed the safety gate but has not
// been validated against policy.
type CandidateQuery struct {
	SQL     string   `json:"sql"`
	Tables  []string `json:"tables"`
	Columns []string `json:"columns"`
}

// LooksLikeSQL reports whether text already reads as a SQL statement rather
// than a question: it starts with SELECT or WITH, or with a mutating keyword
// followed by the object word such a statement needs (DROP TABLE, DELETE FROM,
// UPDATE t SET).
func LooksLikeSQL(text string) bool {
	tokens, err := sqltext.Lex(text)
	if err != nil {
		return false
	}
	var words []string
	for _, tok := range tokens {
		if tok.Kind == sqltext.Comment || tok.Is("(") {
			continue
		}
		if tok.Kind != sqltext.Word && tok.Kind != sqltext.QuotedIdent {
			break
		}
		words = append(words, tok.Upper())
		if len(words) == 3 {
			break
		}
	}
	if len(words) == 0 {
		return false
	}
	switch words[0] {
	case "SELECT", "WITH":
		return true
	}
	if !sqltext.IsForbidden(words[0]) || len(words) < 2 {
		return false
	}
	if _, ok := statementObjects[words[1]]; ok {
		return true
	}
	return len(words) == 3 && words[2] == "SET"
}

var statementObjects = map[string]struct{}{
	"TABLE": {}, "FROM": {}, "INTO": {}, "VIEW": {}, "INDEX": {}, "SCHEMA": {},
	"DATABASE": {}, "OR": {}, "ALL": {}, "ON": {}, "TEMP": {}, "TEMPORARY": {},
	"EXTENSION": {}, "MACRO": {}, "SEQUENCE": {}, "ROLE": {}, "USER": {},
}
