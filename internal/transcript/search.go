package transcript

import (
	"regexp"
	"time"

	"github.com/MrWong99/parley/pkg/types"
)

// RE2's \b only knows ASCII word characters, so whole-word matching spells
// out Unicode boundaries instead.
const (
	wordStart = `(?:^|[^\p{L}\p{N}\p{M}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}\p{M}_])`
)

// SearchOpts narrows a [Search]. All non-zero fields are applied as AND
// conditions.
type SearchOpts struct {
	// SpeakerID restricts matches to one speaker.
	SpeakerID string

	// WholeWords requires the query to match on word boundaries.
	WholeWords bool

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool

	// After and Before bound the segment time range. A zero value disables
	// the bound.
	After  time.Time
	Before time.Time
}

// Search returns the segments whose text contains query, in transcript order.
// query is matched literally; it is not interpreted as a pattern. An empty
// query matches nothing.
func Search(segs []types.Segment, query string, opts SearchOpts) []types.Segment {
	if query == "" {
		return nil
	}
	expr := regexp.QuoteMeta(query)
	if opts.WholeWords {
		expr = wordStart + expr + wordEnd
	}
	if !opts.CaseSensitive {
		expr = `(?i)` + expr
	}
	re := regexp.MustCompile(expr)

	var out []types.Segment
	for _, s := range segs {
		if opts.SpeakerID != "" && s.SpeakerID != opts.SpeakerID {
			continue
		}
		if !opts.After.IsZero() && s.StartTime.Before(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && s.EndTime.After(opts.Before) {
			continue
		}
		if re.MatchString(s.Text) {
			out = append(out, s)
		}
	}
	return out
}

// SpeakerTime is the accumulated speaking duration of one speaker.
type SpeakerTime struct {
	SpeakerID   string        `json:"speakerId"`
	SpeakerName string        `json:"speakerName"`
	Duration    time.Duration `json:"duration"`
}

// SpeakingTime sums EndTime-StartTime per speaker. Speakers are returned in
// order of first appearance.
func SpeakingTime(segs []types.Segment) []SpeakerTime {
	var out []SpeakerTime
	index := make(map[string]int)
	for _, s := range segs {
		d := s.EndTime.Sub(s.StartTime)
		if d < 0 {
			d = 0
		}
		i, ok := index[s.SpeakerID]
		if !ok {
			i = len(out)
			index[s.SpeakerID] = i
			out = append(out, SpeakerTime{SpeakerID: s.SpeakerID, SpeakerName: s.SpeakerName})
		}
		out[i].Duration += d
	}
	return out
}
