// Package mock provides a test double for the memory layer interfaces.
//
// [Store] wraps a real [memory.MemStore] so reads observe earlier writes,
// records every call for assertion and exposes fields that inject errors or
// latency. It is safe for concurrent use.
//
// Typical usage:
//
//	store := mock.NewStore()
//	store.SaveTranscriptErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("SaveTranscript"); got != 1 {
//	    t.Errorf("expected 1 SaveTranscript call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store].
// All exported *Err fields default to nil (success).
type Store struct {
	mu    sync.Mutex
	calls []Call
	inner *memory.MemStore

	// LoadTranscriptErr is returned by [Store.LoadTranscript] when non-nil.
	LoadTranscriptErr error

	// SaveTranscriptErr is returned by [Store.SaveTranscript] when non-nil.
	// The transcript is not stored in that case.
	SaveTranscriptErr error

	// AppendChatErr is returned by [Store.AppendChat] when non-nil.
	AppendChatErr error

	// ChatHistoryErr is returned by [Store.ChatHistory] when non-nil.
	ChatHistoryErr error

	// LoadDelay, when set, is called with the session ID before every
	// LoadTranscript. Tests use it to widen race windows.
	LoadDelay func(sessionID string) time.Duration
}

// Ensure Store implements memory.Store at compile time.
var _ memory.Store = (*Store)(nil)

// NewStore returns an empty [Store].
func NewStore() *Store {
	return &Store{inner: memory.NewMemStore()}
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// record appends a call and returns the load delay hook together with the
// configured error for method.
func (m *Store) record(method string, args ...any) (func(string) time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
	var err error
	switch method {
	case "LoadTranscript":
		err = m.LoadTranscriptErr
	case "SaveTranscript":
		err = m.SaveTranscriptErr
	case "AppendChat":
		err = m.AppendChatErr
	case "ChatHistory":
		err = m.ChatHistoryErr
	}
	return m.LoadDelay, err
}

// LoadTranscript implements [memory.TranscriptStore].
func (m *Store) LoadTranscript(ctx context.Context, sessionID string) (types.Aggregate, error) {
	delay, err := m.record("LoadTranscript", sessionID)
	if delay != nil {
		if d := delay(sessionID); d > 0 {
			time.Sleep(d)
		}
	}
	if err != nil {
		return types.Aggregate{}, err
	}
	return m.inner.LoadTranscript(ctx, sessionID)
}

// SaveTranscript implements [memory.TranscriptStore].
func (m *Store) SaveTranscript(ctx context.Context, sessionID string, agg types.Aggregate) error {
	if _, err := m.record("SaveTranscript", sessionID, agg); err != nil {
		return err
	}
	return m.inner.SaveTranscript(ctx, sessionID, agg)
}

// AppendChat implements [memory.ChatStore].
func (m *Store) AppendChat(ctx context.Context, sessionID string, msg types.ChatMessage) error {
	if _, err := m.record("AppendChat", sessionID, msg); err != nil {
		return err
	}
	return m.inner.AppendChat(ctx, sessionID, msg)
}

// ChatHistory implements [memory.ChatStore].
func (m *Store) ChatHistory(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	if _, err := m.record("ChatHistory", sessionID); err != nil {
		return nil, err
	}
	return m.inner.ChatHistory(ctx, sessionID)
}
