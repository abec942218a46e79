// Package sqltext extracts the structural facts the safety gate and policy
// validator reason about. A lexer that understands quoting and comments finds
// statement boundaries, forbidden keywords and the outermost LIMIT, so that
// keywords hidden in literals or comments are never mistaken for code. The
// tree-sitter SQL grammar supplies tables, columns, aliases and query nesting.
package sqltext

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Kind int

const (
	Word Kind = iota
	QuotedIdent
	String
	Number
	Symbol
	Comment
)

func (k Kind) String() string {
	switch k {
	case Word:
		return "word"
	case QuotedIdent:
		return "quoted identifier"
	case String:
		return "string"
	case Number:
		return "number"
	case Symbol:
		return "symbol"
	case Comment:
		return "comment"
	default:
		return "unknown"
	}
}

// Token is a lexeme with byte offsets into the source text. For quoted
// identifiers and strings Text holds the unescaped content.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
}

func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Is reports whether t is the given symbol.
func (t Token) Is(symbol string) bool {
	return t.Kind == Symbol && t.Text == symbol
}

// IsKeyword reports whether t is an unquoted word equal to keyword.
func (t Token) IsKeyword(keyword string) bool {
	return t.Kind == Word && strings.EqualFold(t.Text, keyword)
}

type LexError struct {
	Pos     int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("sql lex error at offset %d: %s", e.Pos, e.Message)
}

var multiCharSymbols = []string{"->>", "::", "<=", ">=", "<>", "!=", "||", "->", "=>", "**"}

// Lex splits sql into tokens, comments included. Whitespace is dropped.
func Lex(sql string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(sql) {
		r, width := utf8.DecodeRuneInString(sql[i:])
		switch {
		case unicode.IsSpace(r):
			i += width
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql)
			} else {
				end += i
			}
			tokens = append(tokens, Token{Kind: Comment, Text: sql[i:end], Start: i, End: end})
			i = end
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, &LexError{Pos: i, Message: "unterminated block comment"}
			}
			end += i + 4
			tokens = append(tokens, Token{Kind: Comment, Text: sql[i:end], Start: i, End: end})
			i = end
		case r == '\'':
			text, end, err := scanQuoted(sql, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: String, Text: text, Start: i, End: end})
			i = end
		case r == '"' || r == '`':
			text, end, err := scanQuoted(sql, i, byte(r))
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: QuotedIdent, Text: text, Start: i, End: end})
			i = end
		case isDigit(r) || (r == '.' && i+1 < len(sql) && isDigit(rune(sql[i+1]))):
			end := scanNumber(sql, i)
			tokens = append(tokens, Token{Kind: Number, Text: sql[i:end], Start: i, End: end})
			i = end
		case unicode.IsLetter(r) || r == '_':
			end := i + width
			for end < len(sql) {
				next, w := utf8.DecodeRuneInString(sql[end:])
				if !unicode.IsLetter(next) && !unicode.IsDigit(next) && next != '_' && next != '$' {
					break
				}
				end += w
			}
			tokens = append(tokens, Token{Kind: Word, Text: sql[i:end], Start: i, End: end})
			i = end
		default:
			symbol := string(r)
			for _, candidate := range multiCharSymbols {
				if strings.HasPrefix(sql[i:], candidate) {
					symbol = candidate
					break
				}
			}
			tokens = append(tokens, Token{Kind: Symbol, Text: symbol, Start: i, End: i + len(symbol)})
			i += len(symbol)
		}
	}
	return tokens, nil
}

// scanQuoted reads a quoted run starting at sql[start] where a doubled quote
// character is an escaped quote.
func scanQuoted(sql string, start int, quote byte) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(sql[i])
		i++
	}
	what := "string literal"
	if quote != '\'' {
		what = "quoted identifier"
	}
	return "", 0, &LexError{Pos: start, Message: "unterminated " + what}
}

func scanNumber(sql string, start int) int {
	i := start
	for i < len(sql) && isDigit(rune(sql[i])) {
		i++
	}
	if i < len(sql) && sql[i] == '.' {
		i++
		for i < len(sql) && isDigit(rune(sql[i])) {
			i++
		}
	}
	if i < len(sql) && (sql[i] == 'e' || sql[i] == 'E') {
		j := i + 1
		if j < len(sql) && (sql[j] == '+' || sql[j] == '-') {
			j++
		}
		if j < len(sql) && isDigit(rune(sql[j])) {
			i = j
			for i < len(sql) && isDigit(rune(sql[i])) {
				i++
			}
		}
	}
	return i
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
