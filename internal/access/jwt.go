package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/parley/pkg/types"
)

// Claims is the token payload. The subject is the participant ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256-signed tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// JWTOption is a functional option for [JWTAuthenticator].
type JWTOption func(*JWTAuthenticator)

// WithIssuer requires tokens to carry the given "iss" claim.
func WithIssuer(issuer string) JWTOption {
	return func(a *JWTAuthenticator) {
		a.issuer = issuer
	}
}

// WithJWTClock overrides the time source used for expiry checks.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(a *JWTAuthenticator) {
		a.now = now
	}
}

// NewJWTAuthenticator returns a [JWTAuthenticator] for the shared secret.
func NewJWTAuthenticator(secret string, opts ...JWTOption) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("access: jwt secret must not be empty")
	}
	a := &JWTAuthenticator{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// Authenticate implements [Authenticator].
func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (types.Participant, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return types.Participant{}, ErrInvalidCredential
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return types.Participant{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return types.Participant{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return types.Participant{ID: claims.Subject, DisplayName: name}, nil
}

// Issue signs a token for p that expires after ttl. It exists for tests and
// the development token helper; production tokens come from the account
// service.
func (a *JWTAuthenticator) Issue(p types.Participant, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Name: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("access: sign token: %w", err)
	}
	return signed, nil
}
