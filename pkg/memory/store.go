// Package memory defines the persistence interfaces used by Parley.
//
// One record is kept per session: the transcript aggregate (segment list
// plus derived counters) and the ordered chat log. Access policies for
// sessions live alongside them so that a deployment can manage who may join
// a meeting without restarting the server.
//
// All interfaces are public so that external packages can supply alternative
// storage backends. The in-memory [MemStore] is the default; the postgres
// sub-package provides a durable implementation.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/types"
)

// ErrNotFound is returned by lookups for records that do not exist, where the
// interface documents it.
var ErrNotFound = errors.New("memory: not found")

// TranscriptStore persists the transcript aggregate of each session.
type TranscriptStore interface {
	// LoadTranscript returns the stored aggregate for sessionID. A session
	// without a stored transcript yields an empty aggregate and a nil error.
	LoadTranscript(ctx context.Context, sessionID string) (types.Aggregate, error)

	// SaveTranscript replaces the stored aggregate for sessionID. The write
	// is all-or-nothing: on error the previously stored aggregate remains.
	SaveTranscript(ctx context.Context, sessionID string, agg types.Aggregate) error
}

// ChatStore persists the ordered chat log of each session.
type ChatStore interface {
	// AppendChat appends msg to the end of the session's chat log.
	AppendChat(ctx context.Context, sessionID string, msg types.ChatMessage) error

	// ChatHistory returns the session's chat log in append order. Returns an
	// empty (non-nil) slice when the session has no messages.
	ChatHistory(ctx context.Context, sessionID string) ([]types.ChatMessage, error)
}

// Store combines transcript and chat persistence. It is the "one record per
// session" view the session coordinator works against.
type Store interface {
	TranscriptStore
	ChatStore
}

// SessionPolicy describes who may join a session.
type SessionPolicy struct {
	// SessionID identifies the session.
	SessionID string

	// HostID is the participant that owns the session. The host may always
	// join and is the only participant allowed to change recording state.
	HostID string

	// Public sessions admit any authenticated participant.
	Public bool

	// Invited lists participant IDs admitted to a non-public session.
	Invited []string
}

// PolicyStore persists session access policies.
type PolicyStore interface {
	// GetPolicy returns the policy for sessionID, or [ErrNotFound].
	GetPolicy(ctx context.Context, sessionID string) (SessionPolicy, error)

	// PutPolicy creates or replaces the policy for p.SessionID.
	PutPolicy(ctx context.Context, p SessionPolicy) error
}
