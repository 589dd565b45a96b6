package access

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/MrWong99/parley/pkg/types"
)

// StaticToken binds a fixed bearer token to a participant.
type StaticToken struct {
	Token       string
	Participant types.Participant
}

// TokenAuthenticator accepts a fixed set of tokens.
type TokenAuthenticator struct {
	tokens []StaticToken
}

// NewTokenAuthenticator returns a [TokenAuthenticator] for tokens.
func NewTokenAuthenticator(tokens []StaticToken) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

var _ Authenticator = (*TokenAuthenticator)(nil)

// Authenticate implements [Authenticator]. Tokens are compared in constant
// time.
func (a *TokenAuthenticator) Authenticate(_ context.Context, credential string) (types.Participant, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return types.Participant{}, ErrInvalidCredential
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(credential)) == 1 {
			return t.Participant, nil
		}
	}
	return types.Participant{}, ErrInvalidCredential
}
