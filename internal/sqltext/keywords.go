package sqltext

import "strings"

// ForbiddenKeywords are statement keywords that mutate data, change session
// state or reach outside the warehouse. Any unquoted occurrence makes a
// statement unsafe regardless of position.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "GRANT", "REVOKE", "CREATE",
	"TRUNCATE", "MERGE", "UPSERT", "COPY", "ATTACH", "DETACH", "INSTALL",
	"LOAD", "PRAGMA", "CALL", "EXEC", "EXECUTE", "SET", "RESET", "VACUUM", "EXPORT",
	"IMPORT", "CHECKPOINT", "COMMENT", "USE", "BEGIN", "COMMIT", "ROLLBACK", "INTO",
}

var forbidden = toSet(ForbiddenKeywords)

// reserved words are never treated as identifiers.
var reserved = toSet([]string{
	"SELECT", "FROM", "WHERE", "GROUP", "BY", "HAVING", "ORDER", "LIMIT", "OFFSET",
	"FETCH", "UNION", "INTERSECT", "EXCEPT", "ALL", "DISTINCT", "AS", "ON", "USING",
	"JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL", "LATERAL",
	"POSITIONAL", "ASOF", "SEMI", "ANTI", "WITH", "RECURSIVE", "MATERIALIZED", "AND",
	"OR", "NOT", "NULL", "TRUE", "FALSE", "IS", "IN", "EXISTS", "BETWEEN", "LIKE",
	"ILIKE", "SIMILAR", "CASE", "WHEN", "THEN", "ELSE", "END", "ASC", "DESC",
	"NULLS", "OVER", "PARTITION", "ROWS", "RANGE", "GROUPS", "UNBOUNDED", "PRECEDING",
	"FOLLOWING", "CURRENT", "ROW", "FILTER", "WITHIN", "QUALIFY", "WINDOW", "INTERVAL",
	"ANY", "SOME", "ESCAPE", "COLLATE", "TABLESAMPLE", "VALUES", "ONLY",
	"TABLE", "EXCLUDE", "PIVOT", "UNPIVOT",
})

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

// IsForbidden reports whether word is a forbidden statement keyword.
func IsForbidden(word string) bool {
	_, ok := forbidden[word]
	return ok
}

func isReserved(upper string) bool {
	if _, ok := reserved[upper]; ok {
		return true
	}
	_, ok := forbidden[upper]
	return ok
}

// IsReserved reports whether word cannot be used as a bare identifier.
func IsReserved(word string) bool {
	return isReserved(strings.ToUpper(word))
}
