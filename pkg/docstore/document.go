// Package docstore holds the engine's document/metadata table: the
// canonical Document type, the deterministic text/token derivation
// functions the rest of the engine relies on, and the metadata store
// adapter (in-memory, with an optional Badger-backed persistent variant)
// used for filter evaluation and result hydration.
package docstore

import (
	"sort"
	"strings"
	"unicode"
)

// Document is the canonical in-process representation of one retrievable
// item. Content is the free-text payload; Attributes carries filterable
// fields (numeric, categorical, or set-of-strings); Skills and Tags are
// salient fields folded into the token set alongside content tokens.
type Document struct {
	ID         string
	Content    string
	Attributes map[string]any
	Skills     []string
	Tags       []string
}

// CanonicalText returns the deterministic search text derived from a
// document: its content, skills, and tags concatenated with spaces. Two
// calls on an unchanged Document always return the same string.
func (d *Document) CanonicalText() string {
	parts := make([]string, 0, 1+len(d.Skills)+len(d.Tags))
	if d.Content != "" {
		parts = append(parts, d.Content)
	}
	parts = append(parts, d.Skills...)
	parts = append(parts, d.Tags...)
	return strings.Join(parts, " ")
}

// TokenSet returns the deduplicated set of normalized tokens drawn from
// the document's canonical text. It is a pure function of the document.
func (d *Document) TokenSet() []string {
	return Tokenize(SanitizeText(d.CanonicalText()))
}

// Tokenize lowercases text and splits it into alphanumeric runs,
// filtering stop words and single-character tokens. Duplicates are
// removed and the result is returned in sorted order, so it can be used
// as a set.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	seen := make(map[string]struct{})
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := current.String()
		current.Reset()
		if len(tok) < 2 || stopWords[tok] {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	sort.Strings(tokens)
	return tokens
}

// SanitizeText replaces control characters with a space (keeping
// tab/newline/CR) and
// replaces invalid surrogate code points with the Unicode replacement
// character, so downstream tokenization never panics on malformed input.
func SanitizeText(text string) string {
	if text == "" {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	for _, r := range text {
		switch {
		case (r >= 0x00 && r <= 0x08) || r == 0x0B || (r >= 0x0E && r <= 0x1F):
			out.WriteRune(' ')
		case r >= 0xD800 && r <= 0xDFFF:
			out.WriteRune('�')
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// stopWords is a minimal list of truly generic words; domain/technical
// terms are deliberately not filtered.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "this": true, "but": true, "they": true,
	"we": true, "you": true, "your": true, "my": true, "their": true,
	"been": true, "do": true, "does": true, "did": true,
}
