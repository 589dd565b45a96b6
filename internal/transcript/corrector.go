package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/parley/internal/transcript/phonetic"
)

// Correction captures a single word-level substitution made by a
// [NameCorrector].
type Correction struct {
	Original  string
	Corrected string
	Score     float64
}

// NameCorrector rewrites words that sound like a participant's name to the
// name's canonical spelling. Recognisers routinely mangle proper nouns, and
// the member list of a session is the one vocabulary that is always known.
//
// NameCorrector is safe for concurrent use.
type NameCorrector struct {
	matcher *phonetic.Matcher
}

// NewNameCorrector returns a [NameCorrector] backed by m. A nil m uses a
// matcher with default thresholds.
func NewNameCorrector(m *phonetic.Matcher) *NameCorrector {
	if m == nil {
		m = phonetic.New()
	}
	return &NameCorrector{matcher: m}
}

// Correct returns text with misheard names replaced. Surrounding punctuation
// of a token is preserved. When nothing changes, the returned text equals
// the input and corrections is nil.
func (c *NameCorrector) Correct(text string, displayNames []string) (string, []Correction) {
	names := phonetic.Prepare(displayNames)
	if names.Len() == 0 {
		return text, nil
	}

	tokens := strings.Fields(text)
	var corrections []Correction
	for i, tok := range tokens {
		lead, core, trail := splitPunct(tok)
		if core == "" {
			continue
		}
		name, score, ok := c.matcher.Match(core, names)
		if !ok {
			continue
		}
		tokens[i] = lead + name + trail
		corrections = append(corrections, Correction{Original: core, Corrected: name, Score: score})
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(tokens, " "), corrections
}

// splitPunct separates leading and trailing punctuation from a token.
func splitPunct(tok string) (lead, core, trail string) {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	end += size
	return tok[:start], tok[start:end], tok[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}
