package transcript

import (
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/parley/pkg/types"
)

// confidenceTolerance absorbs float summation order differences in Verify.
const confidenceTolerance = 1e-9

// Recompute derives the full aggregate from segs. All four derived fields are
// computed in a single pass so they can never disagree with each other.
// The returned aggregate owns a copy of segs.
func Recompute(segs []types.Segment) types.Aggregate {
	agg := types.Aggregate{
		Segments: make([]types.Segment, len(segs)),
	}
	copy(agg.Segments, segs)
	if len(segs) == 0 {
		return agg
	}

	texts := make([]string, len(segs))
	speakers := make(map[string]struct{}, 4)
	var sum float64
	for i, s := range segs {
		texts[i] = s.Text
		speakers[s.SpeakerID] = struct{}{}
		sum += s.Confidence
	}

	agg.FullText = strings.Join(texts, " ")
	agg.TotalWords = len(strings.Fields(agg.FullText))
	agg.SpeakerCount = len(speakers)
	agg.AvgConfidence = sum / float64(len(segs))
	return agg
}

// Verify checks that the derived fields of agg match its segment list. A
// non-nil error wraps [ErrInvariantViolation] and names the first field that
// disagrees.
func Verify(agg types.Aggregate) error {
	want := Recompute(agg.Segments)
	switch {
	case agg.FullText != want.FullText:
		return fmt.Errorf("%w: fullText mismatch", ErrInvariantViolation)
	case agg.TotalWords != want.TotalWords:
		return fmt.Errorf("%w: totalWords = %d, want %d", ErrInvariantViolation, agg.TotalWords, want.TotalWords)
	case agg.SpeakerCount != want.SpeakerCount:
		return fmt.Errorf("%w: speakerCount = %d, want %d", ErrInvariantViolation, agg.SpeakerCount, want.SpeakerCount)
	case math.IsNaN(agg.AvgConfidence) || math.Abs(agg.AvgConfidence-want.AvgConfidence) > confidenceTolerance:
		return fmt.Errorf("%w: avgConfidence = %v, want %v", ErrInvariantViolation, agg.AvgConfidence, want.AvgConfidence)
	}
	return nil
}
