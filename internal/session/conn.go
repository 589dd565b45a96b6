// Package session implements the session coordinator: the per-connection
// state machine that authenticates participants, moves them in and out of
// session rooms and routes their commands through the transcript pipeline
// and the chat relay.
//
// A connection moves through
//
//	Unauthenticated -> Authenticated -> InSession -> Authenticated -> Disconnected
//
// where InSession is entered by a successful join and left by an explicit
// leave or by joining a different session. Disconnected is terminal and is
// reachable from every state.
//
// Everything that mutates one session's shared state (room membership,
// transcript, chat log, recording state) runs inside that session's lane of
// a [room.Sequencer]. Calls to external collaborators (authorization,
// speech-to-text, enhancement) happen before a task is queued, never inside
// it.
package session

import (
	"errors"
	"sync"

	"github.com/MrWong99/parley/pkg/protocol"
	"github.com/MrWong99/parley/pkg/types"
)

var (
	// ErrAuthentication is returned by [Coordinator.Connect] when the
	// credential is rejected.
	ErrAuthentication = errors.New("session: authentication failed")

	// ErrAuthorizationDenied is returned when the access policy rejects a
	// join or the participant lacks the role an action requires.
	ErrAuthorizationDenied = errors.New("session: authorization denied")

	// ErrNotInSession is returned for commands that target a session the
	// connection is not currently in.
	ErrNotInSession = errors.New("session: not in session")

	// ErrDisconnected is returned for commands on a closed connection.
	ErrDisconnected = errors.New("session: connection closed")

	// ErrInvalidCommand is returned for commands with unusable content, such
	// as blank fragment text.
	ErrInvalidCommand = errors.New("session: invalid command")

	// ErrNoTranscript is returned when an operation needs transcript text
	// and the session has none.
	ErrNoTranscript = errors.New("session: no transcript")
)

// State is a connection's position in the session state machine.
type State int

const (
	// StateUnauthenticated is the state before credential verification.
	StateUnauthenticated State = iota

	// StateAuthenticated means the participant is known but in no session.
	StateAuthenticated

	// StateInSession means the participant is a member of one session room.
	StateInSession

	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInSession:
		return "in_session"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Sink delivers events to one client transport. Send must not block; a
// transport that cannot keep up drops the client instead.
type Sink interface {
	// Send queues ev for delivery.
	Send(ev protocol.Event)

	// Close terminates the transport with a human-readable reason.
	Close(reason string)
}

// Conn is one participant connection. It is created by
// [Coordinator.Connect] and owned by the coordinator.
type Conn struct {
	id          string
	participant types.Participant
	sink        Sink

	mu        sync.Mutex
	state     State
	sessionID string
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// Participant returns the authenticated participant.
func (c *Conn) Participant() types.Participant { return c.participant }

// State returns the current state and, when in session, the session ID.
func (c *Conn) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.sessionID
}

func (c *Conn) send(ev protocol.Event) {
	c.sink.Send(ev)
}

// requireSession returns nil when c is in sessionID.
func (c *Conn) requireSession(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateDisconnected:
		return ErrDisconnected
	case c.state != StateInSession || c.sessionID != sessionID:
		return ErrNotInSession
	}
	return nil
}
