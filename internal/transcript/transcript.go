// Package transcript turns raw speech-to-text fragments into an ordered,
// deduplicated list of transcript segments and keeps the derived aggregate
// statistics consistent with that list.
//
// Speech recognisers re-send overlapping tail content while a sliding window
// finalises. The [Merger] classifies every fragment against the last segment
// of the same speaker:
//
//   - speaker change: a new segment is appended.
//   - containment subset: the fragment is a stale partial and is discarded.
//   - containment superset: the fragment replaces the segment text.
//   - overlap append: the longest word overlap between the segment tail and
//     the fragment head is dropped and the remainder appended.
//
// After every mutation callers run [Recompute] over the full segment list.
// The aggregate fields are never patched incrementally; [Verify] exists so
// that a mismatch is surfaced as [ErrInvariantViolation] instead of being
// persisted.
//
// All functions in this package are pure and safe for concurrent use. The
// caller is responsible for serialising mutations of one session's
// transcript.
package transcript

import "errors"

var (
	// ErrEmptyFragment is returned when a fragment carries no text after
	// trimming. Empty fragments never become segments.
	ErrEmptyFragment = errors.New("transcript: empty fragment")

	// ErrSegmentNotFound is returned by edit operations for an unknown
	// segment ID.
	ErrSegmentNotFound = errors.New("transcript: segment not found")

	// ErrInvariantViolation is returned by [Verify] when the aggregate fields
	// do not match the segment list.
	ErrInvariantViolation = errors.New("transcript: aggregate invariant violation")
)

// MergeKind describes what a merge did to the segment list.
type MergeKind int

const (
	// MergeAppended means a new segment was appended (speaker change or
	// empty transcript).
	MergeAppended MergeKind = iota

	// MergeReplaced means the last segment's text was replaced by a more
	// complete version of the same utterance.
	MergeReplaced

	// MergeExtended means new words were appended to the last segment.
	MergeExtended

	// MergeDiscarded means the fragment carried no new content.
	MergeDiscarded
)

// String returns the lower-case name of the merge kind, used as a metric
// attribute value.
func (k MergeKind) String() string {
	switch k {
	case MergeAppended:
		return "appended"
	case MergeReplaced:
		return "replaced"
	case MergeExtended:
		return "extended"
	case MergeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Changed reports whether the merge mutated the segment list.
func (k MergeKind) Changed() bool {
	return k != MergeDiscarded
}
