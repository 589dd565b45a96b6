package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/access"
	"github.com/MrWong99/parley/internal/chat"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/protocol"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/types"
)

// Enhancer cleans up recognised text before it is merged. On failure it
// returns the text it was given together with the error.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// ChatPoster appends a participant's chat message to a session.
type ChatPoster interface {
	Post(ctx context.Context, sessionID string, author types.Participant, text string) (types.ChatMessage, error)
}

// Summariser turns transcript text into meeting insights.
type Summariser interface {
	Summarise(ctx context.Context, transcript string) (types.Insights, error)
}

// Settings are the hot-reloadable transcript options.
type Settings struct {
	// Enhance runs fragment text through the [Enhancer] before merging.
	Enhance bool

	// CorrectNames rewrites words that sound like a member's display name.
	CorrectNames bool

	// DefaultLanguage is used for fragments that carry no language.
	DefaultLanguage string

	// DefaultConfidence is used for fragments that carry no confidence.
	DefaultConfidence float64
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{DefaultLanguage: "en-US", DefaultConfidence: 0.9}
}

// Config holds the dependencies of a [Coordinator]. Hub, Sequencer, Store,
// Authenticator and Authorizer are required.
type Config struct {
	Hub           *Hub
	Sequencer     *room.Sequencer
	Store         memory.Store
	Authenticator access.Authenticator
	Authorizer    access.Authorizer

	// Transcriber handles audio-chunk commands. Nil rejects them.
	Transcriber stt.Provider

	// Enhancer is used when Settings.Enhance is on.
	Enhancer Enhancer

	// Chat handles chat-message commands. Nil rejects them.
	Chat ChatPoster

	// Insights handles generate-insights commands. Nil rejects them.
	Insights Summariser

	// Names is used when Settings.CorrectNames is on. Nil uses the default
	// phonetic matcher.
	Names *transcript.NameCorrector

	// Merger folds fragments into the transcript. Nil uses a default merger.
	Merger *transcript.Merger

	Metrics  *observe.Metrics
	Settings Settings

	// NewID generates connection IDs. Default: random UUIDs.
	NewID func() string
}

type recordingState struct {
	recording bool
	paused    bool
}

// Coordinator drives every participant connection. All exported methods are
// safe for concurrent use; commands of one connection are expected to be
// handled one at a time, in arrival order.
type Coordinator struct {
	hub      *Hub
	reg      *room.Registry
	seq      *room.Sequencer
	store    memory.Store
	authn    access.Authenticator
	authz    access.Authorizer
	stt      stt.Provider
	enhancer Enhancer
	chat     ChatPoster
	insights Summariser
	names    *transcript.NameCorrector
	merger   *transcript.Merger
	metrics  *observe.Metrics
	newID    func() string

	settings atomic.Pointer[Settings]

	recMu     sync.Mutex
	recording map[string]recordingState
}

// New returns a [Coordinator] for cfg.
func New(cfg Config) (*Coordinator, error) {
	var errs []error
	if cfg.Hub == nil {
		errs = append(errs, errors.New("hub is required"))
	}
	if cfg.Sequencer == nil {
		errs = append(errs, errors.New("sequencer is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Authenticator == nil {
		errs = append(errs, errors.New("authenticator is required"))
	}
	if cfg.Authorizer == nil {
		errs = append(errs, errors.New("authorizer is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("session: %w", errors.Join(errs...))
	}

	co := &Coordinator{
		hub:       cfg.Hub,
		reg:       cfg.Hub.Registry(),
		seq:       cfg.Sequencer,
		store:     cfg.Store,
		authn:     cfg.Authenticator,
		authz:     cfg.Authorizer,
		stt:       cfg.Transcriber,
		enhancer:  cfg.Enhancer,
		chat:      cfg.Chat,
		insights:  cfg.Insights,
		names:     cfg.Names,
		merger:    cfg.Merger,
		metrics:   cfg.Metrics,
		newID:     cfg.NewID,
		recording: make(map[string]recordingState),
	}
	if co.names == nil {
		co.names = transcript.NewNameCorrector(nil)
	}
	if co.merger == nil {
		co.merger = transcript.NewMerger()
	}
	if co.newID == nil {
		co.newID = uuid.NewString
	}
	settings := cfg.Settings
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}
	co.SetSettings(settings)
	return co, nil
}

// SetSettings replaces the transcript options for subsequent commands.
func (co *Coordinator) SetSettings(s Settings) {
	def := DefaultSettings()
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = def.DefaultLanguage
	}
	if s.DefaultConfidence <= 0 || s.DefaultConfidence > 1 {
		s.DefaultConfidence = def.DefaultConfidence
	}
	co.settings.Store(&s)
}

// Settings returns the current transcript options.
func (co *Coordinator) Settings() Settings {
	return *co.settings.Load()
}

// Connect authenticates credential and returns the new connection in the
// Authenticated state. An existing connection of the same participant is
// disconnected and closed first. On failure no connection is created and
// the error wraps [ErrAuthentication].
func (co *Coordinator) Connect(ctx context.Context, credential string, sink Sink) (*Conn, error) {
	p, err := co.authn.Authenticate(ctx, credential)
	if err != nil {
		co.metrics.RecordOperationError(ctx, "connect", protocol.CodeAuthentication)
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	c := &Conn{id: co.newID(), participant: p, sink: sink, state: StateAuthenticated}
	if old := co.hub.register(c); old != nil {
		slog.Info("session: replacing existing connection",
			"participant_id", p.ID,
			"old_conn_id", old.id,
			"conn_id", c.id,
		)
		co.disconnect(ctx, old)
		old.sink.Close("replaced by a newer connection")
	}
	co.metrics.AddParticipants(ctx, 1)

	c.send(protocol.NewEvent(protocol.EventConnected, protocol.Connected{Participant: p}))
	return c, nil
}

// Disconnect moves c to the Disconnected state and removes it from its
// session room, notifying the remaining members. Calling it more than once
// is a no-op.
func (co *Coordinator) Disconnect(ctx context.Context, c *Conn) {
	co.disconnect(ctx, c)
}

func (co *Coordinator) disconnect(ctx context.Context, c *Conn) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	wasIn := c.state == StateInSession
	sessionID := c.sessionID
	c.state = StateDisconnected
	c.sessionID = ""
	c.mu.Unlock()

	co.hub.unregister(c)
	co.metrics.AddParticipants(ctx, -1)

	if !wasIn {
		return
	}
	err := co.seq.Do(sessionID, func() error {
		co.removeMember(context.WithoutCancel(ctx), sessionID, c.participant)
		return nil
	})
	if err != nil {
		slog.Error("session: disconnect cleanup failed", "session_id", sessionID, "participant_id", c.participant.ID, "err", err)
	}
}

// Handle executes cmd for c. Failures are reported to c as an
// operation-error event and also returned.
func (co *Coordinator) Handle(ctx context.Context, c *Conn, cmd protocol.Command) error {
	ctx, span := observe.StartCommandSpan(ctx, cmd.CommandType(), cmd.Session(), c.participant.ID)
	defer span.End()

	var err error
	switch cmd := cmd.(type) {
	case protocol.JoinSession:
		err = co.join(ctx, c, cmd.SessionID)
	case protocol.LeaveSession:
		err = co.leaveCommand(ctx, c, cmd.SessionID)
	case protocol.TranscriptFragment:
		err = co.fragment(ctx, c, cmd)
	case protocol.AudioChunk:
		err = co.audio(ctx, c, cmd)
	case protocol.ChatMessage:
		err = co.chatMessage(ctx, c, cmd)
	case protocol.RecordingState:
		err = co.setRecording(ctx, c, cmd)
	case protocol.SearchTranscript:
		err = co.search(ctx, c, cmd)
	case protocol.SegmentEdit:
		err = co.editSegment(ctx, c, cmd)
	case protocol.SegmentDelete:
		err = co.deleteSegment(ctx, c, cmd)
	case protocol.AudioLevel:
		err = co.audioLevel(c, cmd)
	case protocol.ParticipantStatus:
		err = co.participantStatus(c, cmd)
	case protocol.GenerateInsights:
		err = co.generateInsights(ctx, c, cmd)
	default:
		err = fmt.Errorf("%w: unsupported command %q", ErrInvalidCommand, cmd.CommandType())
	}
	if err != nil {
		span.RecordError(err)
		co.ReportError(ctx, c, cmd.CommandType(), err)
	}
	return err
}

// ReportError sends an operation-error event for err to c only.
func (co *Coordinator) ReportError(ctx context.Context, c *Conn, command string, err error) {
	code := errorCode(err)
	msg := err.Error()
	log := observe.Logger(ctx).With("conn_id", c.id, "command", command, "err", err)
	if code == protocol.CodeInternal {
		log.Error("session: command failed")
		msg = "internal server error"
	} else {
		log.Debug("session: command rejected", "code", code)
	}
	co.metrics.RecordOperationError(ctx, command, code)
	c.send(protocol.NewEvent(protocol.EventOperationError, protocol.OperationError{
		Command: command,
		Code:    code,
		Message: msg,
	}))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return protocol.CodeAuthentication
	case errors.Is(err, ErrAuthorizationDenied):
		return protocol.CodeForbidden
	case errors.Is(err, access.ErrSessionNotFound),
		errors.Is(err, transcript.ErrSegmentNotFound),
		errors.Is(err, ErrNoTranscript):
		return protocol.CodeNotFound
	case errors.Is(err, ErrNotInSession), errors.Is(err, ErrDisconnected):
		return protocol.CodeNotInSession
	case errors.Is(err, ErrInvalidCommand),
		errors.Is(err, protocol.ErrInvalidPayload),
		errors.Is(err, protocol.ErrUnknownType),
		errors.Is(err, transcript.ErrEmptyFragment),
		errors.Is(err, chat.ErrEmptyMessage):
		return protocol.CodeInvalid
	default:
		return protocol.CodeInternal
	}
}

func (co *Coordinator) chatMessage(ctx context.Context, c *Conn, cmd protocol.ChatMessage) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	if co.chat == nil {
		return fmt.Errorf("%w: chat is not available", ErrInvalidCommand)
	}
	msg, err := co.chat.Post(ctx, cmd.SessionID, c.participant, cmd.Text)
	if err != nil {
		return err
	}
	c.send(protocol.NewEvent(protocol.EventMessageSent, protocol.MessageSent{
		SessionID: cmd.SessionID,
		MessageID: msg.ID,
	}))
	return nil
}

func (co *Coordinator) setRecording(ctx context.Context, c *Conn, cmd protocol.RecordingState) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	host, err := co.authz.IsHost(ctx, cmd.SessionID, c.participant.ID)
	if err != nil {
		return fmt.Errorf("session: check host: %w", err)
	}
	if !host {
		return fmt.Errorf("%w: only the host can change the recording state", ErrAuthorizationDenied)
	}

	st := recordingState{recording: cmd.IsRecording, paused: cmd.IsRecording && cmd.IsPaused}
	return co.seq.Do(cmd.SessionID, func() error {
		co.recMu.Lock()
		co.recording[cmd.SessionID] = st
		co.recMu.Unlock()
		co.hub.Broadcast(cmd.SessionID, protocol.NewEvent(protocol.EventRecordingStateChanged, protocol.RecordingStateChanged{
			SessionID:   cmd.SessionID,
			IsRecording: st.recording,
			IsPaused:    st.paused,
			ChangedBy:   c.participant.ID,
		}))
		return nil
	})
}

func (co *Coordinator) recordingOf(sessionID string) recordingState {
	co.recMu.Lock()
	defer co.recMu.Unlock()
	return co.recording[sessionID]
}
