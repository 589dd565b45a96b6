// Package phonetic matches misheard words against participant names using
// Double Metaphone encoding combined with Jaro-Winkler similarity.
//
// A word is a candidate for a name token when the two share at least one
// Double Metaphone code. Among candidates the token with the highest
// Jaro-Winkler score wins, provided the score reaches the threshold. There
// is no pure string-similarity fallback: ordinary words that merely look
// like a name ("hello" and "Helen") must not be rewritten.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.80
	defaultMinLength = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score for a phonetic candidate
// to be accepted. Default: 0.80.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// WithMinLength sets the minimum rune length of a word before it is
// considered for correction. Default: 3.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		m.minLength = n
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	minLength int
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold: defaultThreshold,
		minLength: defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type token struct {
	canonical string
	lower     string
	primary   string
	secondary string
}

// Names is a prepared set of name tokens. Prepare it once per member list and
// reuse it across words.
type Names struct {
	tokens []token
}

// Prepare splits display names into tokens and precomputes their phonetic
// codes. "Ada Lovelace" yields the tokens "Ada" and "Lovelace".
func Prepare(displayNames []string) Names {
	seen := make(map[string]struct{})
	var n Names
	for _, name := range displayNames {
		for _, t := range strings.Fields(name) {
			lower := strings.ToLower(t)
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			p, s := matchr.DoubleMetaphone(lower)
			n.tokens = append(n.tokens, token{canonical: t, lower: lower, primary: p, secondary: s})
		}
	}
	return n
}

// Len returns the number of distinct name tokens.
func (n Names) Len() int { return len(n.tokens) }

// Match returns the name token that word most likely is a mishearing of.
// When matched is false, corrected equals word and score is 0. A word that
// already equals a name token (ignoring case) is not reported as a match.
func (m *Matcher) Match(word string, names Names) (corrected string, score float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(word))
	if utf8.RuneCountInString(lower) < m.minLength || names.Len() == 0 {
		return word, 0, false
	}

	p, s := matchr.DoubleMetaphone(lower)
	var best token
	var bestScore float64
	for _, t := range names.tokens {
		if t.lower == lower {
			return word, 0, false
		}
		if !sharesCode(p, s, t) {
			continue
		}
		jw := matchr.JaroWinkler(lower, t.lower, false)
		if jw >= m.threshold && jw > bestScore {
			best, bestScore = t, jw
		}
	}
	if bestScore == 0 {
		return word, 0, false
	}
	return best.canonical, bestScore, true
}

func sharesCode(primary, secondary string, t token) bool {
	for _, a := range []string{primary, secondary} {
		if a == "" {
			continue
		}
		if a == t.primary || a == t.secondary {
			return true
		}
	}
	return false
}
