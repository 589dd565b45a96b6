// Package access authenticates connecting participants and decides whether
// a participant may join a session.
//
// Two authenticators are provided: [JWTAuthenticator] verifies HS256 bearer
// tokens issued by the account service, and [TokenAuthenticator] maps static
// tokens from the configuration file (useful for development and tests).
// [PolicyAuthorizer] grants access to the session host, invited participants
// and everyone for public sessions, reading policies from a
// [memory.PolicyStore].
package access

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/types"
)

var (
	// ErrInvalidCredential is returned for a missing, malformed, expired or
	// unknown credential.
	ErrInvalidCredential = errors.New("access: invalid credential")

	// ErrSessionNotFound is returned when no policy exists for a session and
	// unknown sessions are not public.
	ErrSessionNotFound = errors.New("access: session not found")
)

// Authenticator verifies a connection credential.
type Authenticator interface {
	// Authenticate returns the participant identified by credential.
	Authenticate(ctx context.Context, credential string) (types.Participant, error)
}

// Authorizer decides session-level permissions.
type Authorizer interface {
	// CanAccess reports whether participantID may join sessionID.
	CanAccess(ctx context.Context, sessionID, participantID string) (bool, error)

	// IsHost reports whether participantID hosts sessionID.
	IsHost(ctx context.Context, sessionID, participantID string) (bool, error)
}

// Chain tries each authenticator in order and returns the first success.
type Chain []Authenticator

// Authenticate implements [Authenticator].
func (c Chain) Authenticate(ctx context.Context, credential string) (types.Participant, error) {
	var errs []error
	for _, a := range c {
		p, err := a.Authenticate(ctx, credential)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return types.Participant{}, ErrInvalidCredential
	}
	return types.Participant{}, errors.Join(errs...)
}
