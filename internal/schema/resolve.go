package schema

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrNotFound = errors.New("not found")

// maxPhraseWords bounds the n-gram length tried during alias matching.
const maxPhraseWords = 4

// Reference is one question phrase resolved to the catalog.
type Reference struct {
	Phrase string
	Table  string
	// Column is empty when Phrase names a whole table.
	Column string
}

type Resolution struct {
	References []Reference
	Unresolved []string
	// Residual holds, in order, every word not consumed by a reference.
	Residual []string
}

// Tables returns the distinct tables referenced, in first-mention order.
func (r Resolution) Tables() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ref := range r.References {
		if _, ok := seen[ref.Table]; ok {
			continue
		}
		seen[ref.Table] = struct{}{}
		out = append(out, ref.Table)
	}
	return out
}

// Column resolves table.column, returning ErrNotFound for unknown names.
func (c *Catalog) Column(table, column string) (Column, error) {
	t, ok := c.Lookup(table)
	if !ok {
		return Column{}, fmt.Errorf("table %q: %w", table, ErrNotFound)
	}
	col, ok := t.Column(column)
	if !ok {
		return Column{}, fmt.Errorf("column %s.%s: %w", t.Name, column, ErrNotFound)
	}
	return col, nil
}

// ResolveQuestion maps the words of a question onto catalog aliases using
// greedy longest-phrase matching. Stop words, analytic vocabulary and numbers
// are ignored; every other word that matches nothing is reported unresolved.
func (c *Catalog) ResolveQuestion(text string) Resolution {
	words := Words(text)
	var res Resolution
	for i := 0; i < len(words); {
		matched := false
		for n := min(maxPhraseWords, len(words)-i); n >= 1; n-- {
			phrase := strings.Join(words[i:i+n], " ")
			table, column, ok := c.ResolveAlias(phrase)
			if !ok {
				continue
			}
			res.References = append(res.References, Reference{Phrase: phrase, Table: table, Column: column})
			i += n
			matched = true
			break
		}
		if matched {
			continue
		}
		word := words[i]
		res.Residual = append(res.Residual, word)
		if !IsVocabulary(word) && !isNumber(word) {
			res.Unresolved = append(res.Unresolved, word)
		}
		i++
	}
	return res
}

// Words lowercases text and splits it into word tokens. Apostrophes inside a
// word are dropped so "product's" becomes "products".
func Words(text string) []string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "'", "")
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// IsVocabulary reports whether word is a stop word or analytic term that
// carries query intent rather than naming a schema object.
func IsVocabulary(word string) bool {
	_, ok := vocabulary[word]
	return ok
}

func isNumber(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return word != ""
}

var vocabulary = func() map[string]struct{} {
	words := []string{
		// stop words
		"a", "an", "the", "of", "for", "in", "on", "at", "to", "from", "with", "without",
		"and", "or", "by", "per", "each", "every", "all", "any", "is", "are", "was", "were",
		"be", "been", "do", "does", "did", "what", "which", "who", "whose", "how", "many",
		"much", "me", "my", "our", "we", "us", "i", "you", "your", "it", "its", "this", "that",
		"these", "those", "there", "their", "them", "they", "have", "has", "had", "so", "far",
		"please", "can", "could", "would", "should", "as", "than", "then", "into", "over",
		"across", "between", "during", "since", "until", "up", "down", "about", "vs", "versus",
		// request verbs
		"show", "list", "give", "get", "find", "display", "tell", "return", "compare",
		"see", "want", "need", "know", "plot", "chart", "graph", "visualize", "breakdown",
		"break", "group", "grouped", "split", "sorted", "sort", "ordered", "rank", "ranked",
		// aggregates and ranking
		"total", "totals", "sum", "overall", "count", "number", "average", "avg", "mean",
		"minimum", "min", "maximum", "max", "lowest", "highest", "top", "bottom", "best",
		"worst", "most", "least", "largest", "smallest", "biggest", "first", "last",
		"selling", "sold", "performing", "popular", "ascending", "descending", "asc", "desc",
		// time
		"time", "trend", "trends", "daily", "weekly", "monthly", "quarterly", "yearly",
		"annual", "annually", "day", "days", "week", "weeks", "month", "months", "quarter",
		"quarters", "year", "years", "today", "yesterday", "current", "previous", "recent",
		"ytd", "date", "dates",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()
