package transcript

import (
	"slices"
	"strings"

	"github.com/MrWong99/parley/pkg/types"
)

// Find returns the index of the segment with the given ID, or -1.
func Find(segs []types.Segment, id string) int {
	return slices.IndexFunc(segs, func(s types.Segment) bool { return s.ID == id })
}

// UpdateSegment replaces the text of the segment identified by id and returns
// the recomputed aggregate together with the updated segment. segs is not
// modified.
func UpdateSegment(segs []types.Segment, id, text string) (types.Aggregate, types.Segment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Aggregate{}, types.Segment{}, ErrEmptyFragment
	}
	i := Find(segs, id)
	if i < 0 {
		return types.Aggregate{}, types.Segment{}, ErrSegmentNotFound
	}
	updated := slices.Clone(segs)
	updated[i].Text = text
	agg := Recompute(updated)
	return agg, agg.Segments[i], nil
}

// DeleteSegment removes the segment identified by id and returns the
// recomputed aggregate. segs is not modified.
func DeleteSegment(segs []types.Segment, id string) (types.Aggregate, error) {
	i := Find(segs, id)
	if i < 0 {
		return types.Aggregate{}, ErrSegmentNotFound
	}
	rest := slices.Concat(segs[:i], segs[i+1:])
	return Recompute(rest), nil
}
