// Package text provides the text normalization applied before
// fingerprinting, so that trivially different spellings of the same
// utterance share one cached artifact.
package text

import (
	"regexp"
	"strings"
)

// Regex patterns for normalization.
const (
	whitespaceRegexPattern = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Normalizer canonicalizes utterance text. It is safe for concurrent use.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	punctReplacer     *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	replacements := []string{
		emDash, "-",
		enDash, "-",
		figureDash, "-",
		ellipsisChar, ellipsis,
		"\r\n", " ",
		"\n", " ",
		"\t", " ",
	}

	return &Normalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctReplacer:     strings.NewReplacer(replacements...),
	}
}

// Normalize lowercases the text, unifies punctuation variants and collapses
// all runs of whitespace to single spaces. Empty input stays empty.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	normalized := n.punctReplacer.Replace(text)
	normalized = strings.ToLower(normalized)
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}
