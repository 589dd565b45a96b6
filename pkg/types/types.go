// Package types defines the shared data model used across all Parley packages.
//
// These types are the common vocabulary between the transcript engine, the
// session coordinator, the chat relay, storage backends and the wire protocol.
// Each package keeps its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import "time"

// Fragment is a raw, possibly overlapping piece of recognised speech text
// submitted by a participant or produced by a speech-to-text provider.
type Fragment struct {
	// SpeakerID identifies the participant who spoke.
	SpeakerID string `json:"speakerId"`

	// SpeakerName is the human-readable speaker name.
	SpeakerName string `json:"speakerName"`

	// Text is the recognised speech content. Never empty once accepted.
	Text string `json:"text"`

	// Confidence is the recogniser confidence (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Language is a BCP-47 tag such as "en-US". May be empty.
	Language string `json:"language,omitempty"`
}

// Segment is a stored, displayable unit of transcript text attributed to one
// speaker and time range. Segments are kept in arrival order and are only
// ever replaced in place (same ID) or removed by an explicit edit.
type Segment struct {
	ID          string    `json:"id"`
	SpeakerID   string    `json:"speakerId"`
	SpeakerName string    `json:"speakerName"`
	Text        string    `json:"text"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`

	// Confidence is in [0,1]. When a segment absorbs a continuation it keeps
	// the higher of the two confidences.
	Confidence float64 `json:"confidence"`

	Language string `json:"language,omitempty"`
}

// Aggregate is the transcript of one session together with its derived
// statistics. FullText, TotalWords, SpeakerCount and AvgConfidence are always
// computed from Segments as one unit and are never mutated independently.
type Aggregate struct {
	Segments      []Segment `json:"segments"`
	FullText      string    `json:"fullText"`
	TotalWords    int       `json:"totalWords"`
	SpeakerCount  int       `json:"speakerCount"`
	AvgConfidence float64   `json:"avgConfidence"`
}

// Counters returns a copy of the aggregate without the segment list. It is
// what gets broadcast alongside a single changed segment.
func (a Aggregate) Counters() Aggregate {
	return Aggregate{
		FullText:      a.FullText,
		TotalWords:    a.TotalWords,
		SpeakerCount:  a.SpeakerCount,
		AvgConfidence: a.AvgConfidence,
	}
}

// MessageKind distinguishes participant chat messages from AI answers.
type MessageKind string

const (
	// KindUser marks a message written by a participant.
	KindUser MessageKind = "user"

	// KindAI marks a message produced by the AI-answer service.
	KindAI MessageKind = "ai"
)

// AIAuthor is the author ID carried by AI-generated chat messages.
const AIAuthor = "ai-assistant"

// ChatMessage is one entry in a session's chat log.
type ChatMessage struct {
	// ID is the unique message identifier.
	ID string `json:"id"`

	// AuthorID is the participant ID, or [AIAuthor] for AI answers.
	AuthorID string `json:"authorId"`

	// AuthorName is the display name shown next to the message.
	AuthorName string `json:"authorName"`

	// Text is the message body.
	Text string `json:"text"`

	// Kind is [KindUser] or [KindAI].
	Kind MessageKind `json:"kind"`

	// Timestamp is when the message was appended. For AI messages it is never
	// earlier than the correlated question's timestamp.
	Timestamp time.Time `json:"timestamp"`

	// Answer links an AI message to the question it answers. Nil for user
	// messages.
	Answer *CorrelatedAnswer `json:"correlatedAnswer,omitempty"`
}

// CorrelatedAnswer ties an AI message to its source question.
type CorrelatedAnswer struct {
	// SourceQuestionID is the ID of the user message that was answered.
	SourceQuestionID string `json:"sourceQuestionId"`

	// ConfidenceScore is the answer confidence; zero for the fallback apology.
	ConfidenceScore float64 `json:"confidenceScore"`

	// CitedSegmentIDs lists at most three related transcript segments.
	CitedSegmentIDs []string `json:"citedSegmentIds"`
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// Participant identifies an authenticated user of the system.
type Participant struct {
	ID          string `json:"participantId"`
	DisplayName string `json:"displayName"`
}

// Insights is an AI-generated summary of a meeting transcript.
type Insights struct {
	Summary     string       `json:"summary"`
	KeyPoints   []string     `json:"keyPoints"`
	ActionItems []ActionItem `json:"actionItems"`
	Topics      []string     `json:"topics"`
	Decisions   []string     `json:"decisions"`
	Questions   []string     `json:"questions"`
}

// ActionItem is a follow-up task named in a meeting.
type ActionItem struct {
	Task string `json:"task"`

	// Assignee is empty when nobody was named.
	Assignee string `json:"assignee,omitempty"`

	// Priority is "high", "medium" or "low".
	Priority string `json:"priority"`
}
