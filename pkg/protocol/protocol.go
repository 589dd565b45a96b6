// Package protocol defines the typed messages exchanged between clients and
// the Parley server, and the JSON envelope they travel in.
//
// Every frame on the wire is a JSON object of the form
//
//	{"type": "join-session", "data": {"sessionId": "weekly-sync"}}
//
// Inbound frames decode into a [Command]; the server answers with [Event]
// values. Event names follow the kebab-case convention of the type field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/types"
)

// Inbound command types.
const (
	TypeJoinSession        = "join-session"
	TypeLeaveSession       = "leave-session"
	TypeTranscriptFragment = "transcript-fragment"
	TypeAudioChunk         = "audio-chunk"
	TypeChatMessage        = "chat-message"
	TypeRecordingState     = "recording-state"
	TypeSearchTranscript   = "search-transcript"
	TypeSegmentEdit        = "segment-edit"
	TypeSegmentDelete      = "segment-delete"
	TypeAudioLevel         = "audio-level"
	TypeParticipantStatus  = "participant-status"
	TypeGenerateInsights   = "generate-insights"
)

// Outbound event types.
const (
	EventConnected             = "connected"
	EventSessionJoined         = "session-joined"
	EventSessionLeft           = "session-left"
	EventMemberJoined          = "member-joined"
	EventMemberLeft            = "member-left"
	EventTranscriptUpdated     = "transcript-updated"
	EventSegmentDeleted        = "segment-deleted"
	EventChatMessageAppended   = "chat-message-appended"
	EventMessageSent           = "message-sent"
	EventRecordingStateChanged = "recording-state-changed"
	EventSearchResults         = "search-results"
	EventOperationError        = "operation-error"

	EventParticipantAudioLevel    = "participant-audio-level"
	EventParticipantStatusChanged = "participant-status-changed"
	EventInsightsGenerated        = "insights-generated"
)

// ErrUnknownType is returned by [Decode] for an unrecognised type field.
var ErrUnknownType = errors.New("protocol: unknown message type")

// ErrInvalidPayload is returned by [Decode] when the data field does not
// match the command's schema or misses a required field.
var ErrInvalidPayload = errors.New("protocol: invalid payload")

// Envelope is the wire frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is an inbound client request. Every command except
// [JoinSession] targets the session named by SessionID.
type Command interface {
	// CommandType returns the wire type name.
	CommandType() string
	// Session returns the session the command targets.
	Session() string
}

// JoinSession asks to enter a session's room.
type JoinSession struct {
	SessionID string `json:"sessionId"`
}

// LeaveSession asks to leave the current session.
type LeaveSession struct {
	SessionID string `json:"sessionId"`
}

// TranscriptFragment submits recognised speech. The speaker is always the
// sending participant; the payload cannot name another speaker.
type TranscriptFragment struct {
	SessionID  string  `json:"sessionId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// AudioChunk submits raw audio for server-side transcription. Audio is
// base64 encoded on the wire.
type AudioChunk struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"audio"`
	MimeType  string `json:"mimeType,omitempty"`
	Language  string `json:"language,omitempty"`
}

// ChatMessage posts a chat message to the session.
type ChatMessage struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// RecordingState changes the session's recording state. Host only.
type RecordingState struct {
	SessionID   string `json:"sessionId"`
	IsRecording bool   `json:"isRecording"`
	IsPaused    bool   `json:"isPaused"`
}

// SearchTranscript searches the session transcript. After and Before bound
// the matched segments' time range when set.
type SearchTranscript struct {
	SessionID     string    `json:"sessionId"`
	Query         string    `json:"query"`
	SpeakerID     string    `json:"speakerId,omitempty"`
	WholeWords    bool      `json:"wholeWords,omitempty"`
	CaseSensitive bool      `json:"caseSensitive,omitempty"`
	After         time.Time `json:"after,omitzero"`
	Before        time.Time `json:"before,omitzero"`
}

// SegmentEdit replaces the text of one segment.
type SegmentEdit struct {
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
	Text      string `json:"text"`
}

// SegmentDelete removes one segment.
type SegmentDelete struct {
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
}

// AudioLevel reports the sender's microphone level for visualisation.
// Level is clamped to [0, 1].
type AudioLevel struct {
	SessionID string  `json:"sessionId"`
	Level     float64 `json:"level"`
}

// MediaStatus is a participant's microphone, camera and hand state.
type MediaStatus struct {
	Muted      bool `json:"muted"`
	VideoOff   bool `json:"videoOff"`
	HandRaised bool `json:"handRaised"`
}

// ParticipantStatus reports a change of the sender's [MediaStatus].
type ParticipantStatus struct {
	SessionID string      `json:"sessionId"`
	Status    MediaStatus `json:"status"`
}

// GenerateInsights asks for an AI summary of the session transcript.
type GenerateInsights struct {
	SessionID string `json:"sessionId"`
}

func (JoinSession) CommandType() string        { return TypeJoinSession }
func (LeaveSession) CommandType() string       { return TypeLeaveSession }
func (TranscriptFragment) CommandType() string { return TypeTranscriptFragment }
func (AudioChunk) CommandType() string         { return TypeAudioChunk }
func (ChatMessage) CommandType() string        { return TypeChatMessage }
func (RecordingState) CommandType() string     { return TypeRecordingState }
func (SearchTranscript) CommandType() string   { return TypeSearchTranscript }
func (SegmentEdit) CommandType() string        { return TypeSegmentEdit }
func (SegmentDelete) CommandType() string      { return TypeSegmentDelete }
func (AudioLevel) CommandType() string         { return TypeAudioLevel }
func (ParticipantStatus) CommandType() string  { return TypeParticipantStatus }
func (GenerateInsights) CommandType() string   { return TypeGenerateInsights }

func (c JoinSession) Session() string        { return c.SessionID }
func (c LeaveSession) Session() string       { return c.SessionID }
func (c TranscriptFragment) Session() string { return c.SessionID }
func (c AudioChunk) Session() string         { return c.SessionID }
func (c ChatMessage) Session() string        { return c.SessionID }
func (c RecordingState) Session() string     { return c.SessionID }
func (c SearchTranscript) Session() string   { return c.SessionID }
func (c SegmentEdit) Session() string        { return c.SessionID }
func (c SegmentDelete) Session() string      { return c.SessionID }
func (c AudioLevel) Session() string         { return c.SessionID }
func (c ParticipantStatus) Session() string  { return c.SessionID }
func (c GenerateInsights) Session() string   { return c.SessionID }

// Decode turns an envelope into its typed command and checks required
// fields. Text fields are not trimmed here; emptiness checks that depend on
// trimming belong to the consumer.
func Decode(env Envelope) (Command, error) {
	var (
		cmd Command
		err error
	)
	switch env.Type {
	case TypeJoinSession:
		cmd, err = decodeInto[JoinSession](env.Data)
	case TypeLeaveSession:
		cmd, err = decodeInto[LeaveSession](env.Data)
	case TypeTranscriptFragment:
		cmd, err = decodeInto[TranscriptFragment](env.Data)
	case TypeAudioChunk:
		cmd, err = decodeInto[AudioChunk](env.Data)
	case TypeChatMessage:
		cmd, err = decodeInto[ChatMessage](env.Data)
	case TypeRecordingState:
		cmd, err = decodeInto[RecordingState](env.Data)
	case TypeSearchTranscript:
		cmd, err = decodeInto[SearchTranscript](env.Data)
	case TypeSegmentEdit:
		cmd, err = decodeInto[SegmentEdit](env.Data)
	case TypeSegmentDelete:
		cmd, err = decodeInto[SegmentDelete](env.Data)
	case TypeAudioLevel:
		cmd, err = decodeInto[AudioLevel](env.Data)
	case TypeParticipantStatus:
		cmd, err = decodeInto[ParticipantStatus](env.Data)
	case TypeGenerateInsights:
		cmd, err = decodeInto[GenerateInsights](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Session()) == "" {
		return nil, fmt.Errorf("%w: %s: sessionId is required", ErrInvalidPayload, env.Type)
	}
	switch c := cmd.(type) {
	case SegmentEdit:
		if c.SegmentID == "" {
			return nil, fmt.Errorf("%w: %s: segmentId is required", ErrInvalidPayload, env.Type)
		}
	case SegmentDelete:
		if c.SegmentID == "" {
			return nil, fmt.Errorf("%w: %s: segmentId is required", ErrInvalidPayload, env.Type)
		}
	case AudioChunk:
		if len(c.Audio) == 0 {
			return nil, fmt.Errorf("%w: %s: audio is required", ErrInvalidPayload, env.Type)
		}
	}
	return cmd, nil
}

func decodeInto[T Command](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: %s: missing data", ErrInvalidPayload, v.CommandType())
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, v.CommandType(), err)
	}
	return v, nil
}

// Event is an outbound server message. Data is marshalled as the envelope's
// data field.
type Event struct {
	Type string
	Data any
}

// MarshalJSON encodes the event as an [Envelope].
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: e.Type, Data: data})
}

// Summary describes a session's state to a participant who just joined.
type Summary struct {
	SegmentCount     int               `json:"segmentCount"`
	TotalWords       int               `json:"totalWords"`
	SpeakerCount     int               `json:"speakerCount"`
	AvgConfidence    float64           `json:"avgConfidence"`
	ChatMessageCount int               `json:"chatMessageCount"`
	IsRecording      bool              `json:"isRecording"`
	IsPaused         bool              `json:"isPaused"`
	SpeakingTime     []SpeakerDuration `json:"speakingTime"`
}

// SpeakerDuration is one speaker's accumulated speaking time in milliseconds.
type SpeakerDuration struct {
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	DurationMS  int64  `json:"durationMs"`
}

// Connected greets a newly authenticated connection.
type Connected struct {
	Participant types.Participant `json:"participant"`
}

// SessionJoined answers a successful join. Segments and Messages carry the
// stored transcript and chat log so late joiners start from the full history.
type SessionJoined struct {
	SessionID string              `json:"sessionId"`
	Members   []types.Participant `json:"members"`
	Summary   Summary             `json:"sessionSummary"`
	Segments  []types.Segment     `json:"segments"`
	Messages  []types.ChatMessage `json:"messages"`
}

// SessionLeft confirms a leave to the leaving participant.
type SessionLeft struct {
	SessionID string `json:"sessionId"`
}

// MemberChange announces a member joining or leaving.
type MemberChange struct {
	SessionID   string            `json:"sessionId"`
	Participant types.Participant `json:"participant"`
}

// TranscriptUpdated carries one changed segment and the aggregate counters.
type TranscriptUpdated struct {
	SessionID string          `json:"sessionId"`
	Segment   types.Segment   `json:"segment"`
	Aggregate types.Aggregate `json:"aggregate"`
}

// SegmentDeleted announces a removed segment and the new counters.
type SegmentDeleted struct {
	SessionID string          `json:"sessionId"`
	SegmentID string          `json:"segmentId"`
	Aggregate types.Aggregate `json:"aggregate"`
}

// ChatAppended carries a newly appended chat message.
type ChatAppended struct {
	SessionID string            `json:"sessionId"`
	Message   types.ChatMessage `json:"message"`
}

// MessageSent acknowledges a chat message to its sender.
type MessageSent struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// RecordingStateChanged announces a recording state change.
type RecordingStateChanged struct {
	SessionID   string `json:"sessionId"`
	IsRecording bool   `json:"isRecording"`
	IsPaused    bool   `json:"isPaused"`
	ChangedBy   string `json:"changedBy"`
}

// SearchResults answers a transcript search.
type SearchResults struct {
	SessionID string          `json:"sessionId"`
	Query     string          `json:"query"`
	Segments  []types.Segment `json:"segments"`
}

// ParticipantAudioLevel relays a member's audio level to the other members.
type ParticipantAudioLevel struct {
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	Level         float64   `json:"level"`
	Timestamp     time.Time `json:"timestamp"`
}

// ParticipantStatusChanged relays a member's media status to the other
// members.
type ParticipantStatusChanged struct {
	SessionID     string      `json:"sessionId"`
	ParticipantID string      `json:"participantId"`
	Status        MediaStatus `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
}

// InsightsGenerated delivers an AI summary of the transcript to the session.
// Fallback is set when the summary could not be produced and Insights holds
// the placeholder text.
type InsightsGenerated struct {
	SessionID   string         `json:"sessionId"`
	RequestedBy string         `json:"requestedBy"`
	Insights    types.Insights `json:"insights"`
	Fallback    bool           `json:"fallback,omitempty"`
}

// Error codes carried by [OperationError].
const (
	CodeAuthentication = "authentication_failed"
	CodeForbidden      = "forbidden"
	CodeNotInSession   = "not_in_session"
	CodeInvalid        = "invalid_request"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

// OperationError reports a failed command to its sender only.
type OperationError struct {
	Command string `json:"command,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent is a convenience constructor for [Event].
func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data}
}
