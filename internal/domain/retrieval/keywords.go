package retrieval

import (
	"strings"
	"unicode"
)

// Query scaffolding that carries no retrieval signal in either script.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "how": {},
	"did": {}, "does": {}, "was": {}, "were": {}, "are": {}, "you": {},
	"about": {}, "from": {}, "have": {}, "has": {}, "had": {}, "can": {},
	"show": {}, "find": {}, "tell": {}, "give": {}, "need": {}, "want": {},
	"remember": {}, "recall": {}, "again": {}, "please": {},
	"我": {}, "的": {}, "是": {}, "了": {}, "在": {}, "吗": {}, "什么": {},
}

// ExtractTerms pulls search keywords out of a free-form query. Latin words
// shorter than three runes and stopwords are dropped; contiguous Han runs are
// kept whole, matching how the lexical index is queried with substring LIKE.
func ExtractTerms(query string) []string {
	lower := strings.ToLower(query)

	var terms []string
	seen := make(map[string]struct{})
	add := func(term string) {
		if term == "" {
			return
		}
		if _, ok := stopwords[term]; ok {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}

	var latin, han strings.Builder
	flushLatin := func() {
		if latin.Len() >= 3 {
			add(latin.String())
		}
		latin.Reset()
	}
	flushHan := func() {
		if han.Len() > 0 {
			add(han.String())
		}
		han.Reset()
	}

	for _, r := range lower {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			han.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin.WriteRune(r)
		default:
			flushLatin()
			flushHan()
		}
	}
	flushLatin()
	flushHan()

	return terms
}
