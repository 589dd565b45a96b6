// Package chat appends chat messages to a session and answers questions
// asked in them.
//
// A [Relay] stores and broadcasts every user message immediately. Messages
// containing a question mark are answered asynchronously: the AI answer (or
// a fixed apology when the answerer fails) is appended after the question
// with a timestamp no earlier than the question's. Appends run inside the
// session's [room.Sequencer] lane; the answerer is called outside it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/assist"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/protocol"
	"github.com/MrWong99/parley/pkg/types"
)

// FallbackAnswer is appended in place of an AI answer when the answerer
// fails.
const FallbackAnswer = "I'm sorry, I encountered an error while processing your question. Please try again."

// AIName is the display name of AI messages.
const AIName = "AI Assistant"

const defaultAnswerTimeout = 30 * time.Second

// ErrEmptyMessage is returned by [Relay.Post] for blank text.
var ErrEmptyMessage = errors.New("chat: message text is empty")

// Answerer answers a question given the transcript text as context.
type Answerer interface {
	Answer(ctx context.Context, question, transcript string) (assist.Answer, error)
}

// Publisher delivers an event to every current member of a session.
type Publisher interface {
	Broadcast(sessionID string, ev protocol.Event)
}

// Relay appends chat messages and triggers AI answers. It is safe for
// concurrent use.
type Relay struct {
	store    memory.Store
	seq      *room.Sequencer
	pub      Publisher
	answerer Answerer
	metrics  *observe.Metrics
	timeout  time.Duration
	now      func() time.Time
	newID    func() string

	// ctx scopes in-flight answers; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option is a functional option for [Relay].
type Option func(*Relay)

// WithAnswerer enables AI answers. Without one, questions are stored like
// any other message.
func WithAnswerer(a Answerer) Option {
	return func(r *Relay) {
		r.answerer = a
	}
}

// WithAnswerTimeout bounds each answerer call. Default: 30s.
func WithAnswerTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics records appended messages and answer latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

// WithIDGenerator overrides message ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Relay) {
		r.newID = newID
	}
}

// NewRelay returns a [Relay]. seq must be the same sequencer the session
// coordinator uses so chat appends and transcript writes share one lane per
// session.
func NewRelay(store memory.Store, seq *room.Sequencer, pub Publisher, opts ...Option) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		store:   store,
		seq:     seq,
		pub:     pub,
		timeout: defaultAnswerTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Post appends a user message to sessionID and broadcasts it. When the text
// contains a question mark and an answerer is configured, an answer is
// appended asynchronously after the returned message.
func (r *Relay) Post(ctx context.Context, sessionID string, author types.Participant, text string) (types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ChatMessage{}, ErrEmptyMessage
	}

	var msg types.ChatMessage
	err := r.seq.Do(sessionID, func() error {
		msg = types.ChatMessage{
			ID:         r.newID(),
			AuthorID:   author.ID,
			AuthorName: author.DisplayName,
			Text:       text,
			Kind:       types.KindUser,
			Timestamp:  r.now(),
		}
		return r.append(context.WithoutCancel(ctx), sessionID, msg)
	})
	if err != nil {
		return types.ChatMessage{}, err
	}

	if r.answerer != nil && IsQuestion(text) {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.answer(sessionID, msg)
		}()
	}
	return msg, nil
}

// answer resolves one question and appends the reply. It never returns
// without appending something unless the store itself fails.
func (r *Relay) answer(sessionID string, question types.ChatMessage) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	log := slog.With("session_id", sessionID, "question_id", question.ID)

	// The transcript is read outside the session lane; a slightly stale
	// context is acceptable for an answer.
	agg, err := r.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		log.Warn("chat: load transcript for answer", "err", err)
	}

	start := time.Now()
	ans, err := r.answerer.Answer(ctx, question.Text, agg.FullText)
	r.metrics.RecordLLM(ctx, "answer", time.Since(start))

	reply := &types.CorrelatedAnswer{SourceQuestionID: question.ID, CitedSegmentIDs: []string{}}
	text := FallbackAnswer
	if err != nil {
		log.Warn("chat: answer failed, sending fallback", "err", err)
	} else {
		text = ans.Text
		reply.ConfidenceScore = ans.Confidence
		reply.CitedSegmentIDs = RelatedSegments(question.Text, agg.Segments)
	}

	// The append must happen even when ctx timed out.
	err = r.seq.Do(sessionID, func() error {
		ts := r.now()
		if ts.Before(question.Timestamp) {
			ts = question.Timestamp
		}
		msg := types.ChatMessage{
			ID:         r.newID(),
			AuthorID:   types.AIAuthor,
			AuthorName: AIName,
			Text:       text,
			Kind:       types.KindAI,
			Timestamp:  ts,
			Answer:     reply,
		}
		return r.append(context.WithoutCancel(ctx), sessionID, msg)
	})
	if err != nil {
		log.Error("chat: append answer", "err", err)
	}
}

// append persists msg and broadcasts it. Must run inside the session lane.
func (r *Relay) append(ctx context.Context, sessionID string, msg types.ChatMessage) error {
	if err := r.store.AppendChat(ctx, sessionID, msg); err != nil {
		return fmt.Errorf("chat: append message: %w", err)
	}
	r.metrics.RecordChatMessage(ctx, string(msg.Kind))
	r.pub.Broadcast(sessionID, protocol.NewEvent(protocol.EventChatMessageAppended, protocol.ChatAppended{
		SessionID: sessionID,
		Message:   msg,
	}))
	return nil
}

// Wait blocks until every in-flight answer has been appended.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Close cancels in-flight answerer calls and waits for their fallback
// messages to be appended.
func (r *Relay) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}
