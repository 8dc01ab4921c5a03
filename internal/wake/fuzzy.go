package wake

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// fuzzyCutoff is the minimum partial-match score (out of 100) for a
// transcript detection.
const fuzzyCutoff = 90

// normalizeText lowercases, strips punctuation, and collapses whitespace so
// phrase and transcript comparisons are insensitive to formatting. The same
// function is applied to both sides of every comparison.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Punctuation and symbols are dropped.
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// partialScore computes a 0-100 partial-match score of phrase against text.
// The phrase is slid over every same-length token window of the text and the
// best Jaro-Winkler similarity wins, so a phrase embedded in a longer
// utterance still scores as a full match.
//
// Both inputs must already be normalized.
func partialScore(phrase, text string) int {
	if phrase == "" || text == "" {
		return 0
	}

	phraseTokens := strings.Fields(phrase)
	textTokens := strings.Fields(text)
	if len(phraseTokens) == 0 || len(textTokens) == 0 {
		return 0
	}

	window := len(phraseTokens)
	if window > len(textTokens) {
		// Transcript shorter than the phrase: single whole-string comparison.
		return int(matchr.JaroWinkler(phrase, text, false) * 100)
	}

	var best float64
	for i := 0; i+window <= len(textTokens); i++ {
		candidate := strings.Join(textTokens[i:i+window], " ")
		if s := matchr.JaroWinkler(phrase, candidate, false); s > best {
			best = s
		}
	}
	return int(best * 100)
}
