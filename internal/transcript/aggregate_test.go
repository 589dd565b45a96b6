package transcript

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/types"
)

func TestRecompute_Empty(t *testing.T) {
	t.Parallel()

	for _, segs := range [][]types.Segment{nil, {}} {
		agg := Recompute(segs)
		if agg.FullText != "" || agg.TotalWords != 0 || agg.SpeakerCount != 0 || agg.AvgConfidence != 0 {
			t.Errorf("Recompute(%v) = %+v, want all zero", segs, agg)
		}
		if math.IsNaN(agg.AvgConfidence) {
			t.Error("AvgConfidence is NaN")
		}
		if err := Verify(agg); err != nil {
			t.Errorf("Verify(empty) = %v", err)
		}
	}
}

func TestRecompute_Fields(t *testing.T) {
	t.Parallel()

	segs := []types.Segment{
		{ID: "1", SpeakerID: "a", Text: "hello  there", Confidence: 0.5},
		{ID: "2", SpeakerID: "b", Text: "hi", Confidence: 1.0},
		{ID: "3", SpeakerID: "a", Text: "how are you", Confidence: 0.9},
	}
	agg := Recompute(segs)

	if want := "hello  there hi how are you"; agg.FullText != want {
		t.Errorf("FullText = %q, want %q", agg.FullText, want)
	}
	if agg.TotalWords != 6 {
		t.Errorf("TotalWords = %d, want 6", agg.TotalWords)
	}
	if agg.SpeakerCount != 2 {
		t.Errorf("SpeakerCount = %d, want 2", agg.SpeakerCount)
	}
	if want := 0.8; math.Abs(agg.AvgConfidence-want) > 1e-12 {
		t.Errorf("AvgConfidence = %v, want %v", agg.AvgConfidence, want)
	}

	agg.Segments[0].Text = "changed"
	if segs[0].Text != "hello  there" {
		t.Error("Recompute result aliases input slice")
	}
}

func TestVerify_DetectsPartialUpdates(t *testing.T) {
	t.Parallel()

	base := Recompute([]types.Segment{
		{ID: "1", SpeakerID: "a", Text: "one two", Confidence: 0.4},
		{ID: "2", SpeakerID: "b", Text: "three", Confidence: 0.8},
	})

	tests := []struct {
		name   string
		mutate func(*types.Aggregate)
	}{
		{"stale full text", func(a *types.Aggregate) { a.Segments[1].Text = "three four" }},
		{"stale word count", func(a *types.Aggregate) {
			a.Segments[1].Text = "three four"
			a.FullText = "one two three four"
		}},
		{"stale speaker count", func(a *types.Aggregate) { a.Segments[1].SpeakerID = "a" }},
		{"stale confidence", func(a *types.Aggregate) { a.Segments[0].Confidence = 0.9 }},
		{"segment removed without recompute", func(a *types.Aggregate) { a.Segments = a.Segments[:1] }},
		{"nan confidence", func(a *types.Aggregate) { a.AvgConfidence = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			agg := base
			agg.Segments = append([]types.Segment(nil), base.Segments...)
			tt.mutate(&agg)
			if err := Verify(agg); !errors.Is(err, ErrInvariantViolation) {
				t.Errorf("Verify() = %v, want ErrInvariantViolation", err)
			}
		})
	}
}

// TestAggregate_ConsistentAfterEveryMerge drives a long random fragment
// stream through the merger and checks the aggregate after each step.
func TestAggregate_ConsistentAfterEveryMerge(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 7))
	words := strings.Fields("the quick brown fox jumps over a lazy dog while seven people watch")
	speakers := []string{"alice", "bob", "carol"}

	m := NewMerger()
	var segs []types.Segment
	for i := range 500 {
		start := rng.IntN(len(words))
		n := 1 + rng.IntN(5)
		end := min(start+n, len(words))
		f := types.Fragment{
			SpeakerID:  speakers[rng.IntN(len(speakers))],
			Text:       strings.Join(words[start:end], " "),
			Confidence: rng.Float64(),
		}
		res, err := m.Merge(segs, f)
		if err != nil {
			t.Fatalf("step %d: Merge: %v", i, err)
		}
		segs = res.Segments
		agg := Recompute(segs)
		if err := Verify(agg); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}

		distinct := map[string]bool{}
		var texts []string
		for _, s := range segs {
			distinct[s.SpeakerID] = true
			texts = append(texts, s.Text)
			if s.Confidence < 0 || s.Confidence > 1 {
				t.Fatalf("step %d: confidence %v out of range", i, s.Confidence)
			}
		}
		if agg.FullText != strings.Join(texts, " ") {
			t.Fatalf("step %d: FullText mismatch", i)
		}
		if agg.TotalWords != len(strings.Fields(agg.FullText)) {
			t.Fatalf("step %d: TotalWords = %d", i, agg.TotalWords)
		}
		if agg.SpeakerCount != len(distinct) {
			t.Fatalf("step %d: SpeakerCount = %d, want %d", i, agg.SpeakerCount, len(distinct))
		}
	}
}
