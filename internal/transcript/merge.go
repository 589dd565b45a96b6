package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/types"
)

// MergerOption is a functional option for configuring a [Merger].
type MergerOption func(*Merger)

// WithClock overrides the time source used for segment start and end times.
// Default: time.Now.
func WithClock(now func() time.Time) MergerOption {
	return func(m *Merger) {
		m.now = now
	}
}

// WithIDGenerator overrides the segment ID generator. Default: random UUIDs.
func WithIDGenerator(newID func() string) MergerOption {
	return func(m *Merger) {
		m.newID = newID
	}
}

// MergeResult is the outcome of a single [Merger.Merge] call.
type MergeResult struct {
	// Segments is the updated segment list. It never aliases the prior slice.
	Segments []types.Segment

	// Kind classifies the change.
	Kind MergeKind

	// Index is the position of the affected segment in Segments, or -1 when
	// Kind is [MergeDiscarded].
	Index int
}

// Affected returns the segment created or updated by the merge. ok is false
// when the fragment was discarded.
func (r MergeResult) Affected() (seg types.Segment, ok bool) {
	if r.Index < 0 || r.Index >= len(r.Segments) {
		return types.Segment{}, false
	}
	return r.Segments[r.Index], true
}

// Merger folds fragments into a segment list. A Merger holds no transcript
// state and is safe for concurrent use.
type Merger struct {
	now   func() time.Time
	newID func() string
}

// NewMerger returns a [Merger] configured with opts.
func NewMerger(opts ...MergerOption) *Merger {
	m := &Merger{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Merge folds f into prior and returns the resulting segment list.
//
// prior is never modified. Arrival order is the only ordering signal, so the
// fragment is only ever compared with the last segment.
func (m *Merger) Merge(prior []types.Segment, f types.Fragment) (MergeResult, error) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return MergeResult{Index: -1}, ErrEmptyFragment
	}

	segs := make([]types.Segment, len(prior), len(prior)+1)
	copy(segs, prior)

	now := m.now()
	if len(segs) == 0 || segs[len(segs)-1].SpeakerID != f.SpeakerID {
		segs = append(segs, types.Segment{
			ID:          m.newID(),
			SpeakerID:   f.SpeakerID,
			SpeakerName: f.SpeakerName,
			Text:        text,
			StartTime:   now,
			EndTime:     now,
			Confidence:  f.Confidence,
			Language:    f.Language,
		})
		return MergeResult{Segments: segs, Kind: MergeAppended, Index: len(segs) - 1}, nil
	}

	idx := len(segs) - 1
	last := segs[idx]
	lastNorm := normalize(last.Text)
	fragNorm := strings.ToLower(text)

	switch {
	case strings.Contains(lastNorm, fragNorm):
		return MergeResult{Segments: segs, Kind: MergeDiscarded, Index: -1}, nil

	case strings.Contains(fragNorm, lastNorm):
		last.Text = text
		last.EndTime = later(last.EndTime, now)
		last.Confidence = max(last.Confidence, f.Confidence)
		segs[idx] = last
		return MergeResult{Segments: segs, Kind: MergeReplaced, Index: idx}, nil
	}

	tail := strings.Fields(last.Text)
	head := strings.Fields(text)
	rest := head[overlap(tail, head):]
	if len(rest) == 0 {
		return MergeResult{Segments: segs, Kind: MergeDiscarded, Index: -1}, nil
	}

	last.Text = strings.TrimSpace(last.Text) + " " + strings.Join(rest, " ")
	last.EndTime = later(last.EndTime, now)
	last.Confidence = max(last.Confidence, f.Confidence)
	segs[idx] = last
	return MergeResult{Segments: segs, Kind: MergeExtended, Index: idx}, nil
}

// overlap returns the length of the longest run of trailing words of a that
// equals a run of leading words of b, compared case-insensitively.
func overlap(a, b []string) int {
	for k := min(len(a), len(b)); k > 0; k-- {
		if wordsEqual(a[len(a)-k:], b[:k]) {
			return k
		}
	}
	return 0
}

func wordsEqual(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// later keeps end times monotonic when the clock steps backwards.
func later(a, b time.Time) time.Time {
	if b.Before(a) {
		return a
	}
	return b
}
