package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/parley/pkg/types"
)

const (
	// maxCitedSegments caps the segments cited by one answer.
	maxCitedSegments = 3

	// minKeywordRunes is the length a question word must exceed to count.
	minKeywordRunes = 3
)

// IsQuestion reports whether text should be answered.
func IsQuestion(text string) bool {
	return strings.Contains(text, "?")
}

// RelatedSegments returns the IDs of at most three segments, in transcript
// order, whose text contains one of the question's words longer than three
// characters. Matching is case-insensitive substring matching; leading and
// trailing punctuation is stripped from question words first.
func RelatedSegments(question string, segs []types.Segment) []string {
	keywords := questionKeywords(question)
	ids := []string{}
	if len(keywords) == 0 {
		return ids
	}
	for _, seg := range segs {
		text := strings.ToLower(seg.Text)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				ids = append(ids, seg.ID)
				break
			}
		}
		if len(ids) == maxCitedSegments {
			break
		}
	}
	return ids
}

func questionKeywords(question string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if utf8.RuneCountInString(w) > minKeywordRunes {
			out = append(out, w)
		}
	}
	return out
}
