package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/access"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/types"
)

var alice = types.Participant{ID: "p-alice", DisplayName: "Alice"}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	t.Parallel()

	a, err := access.NewJWTAuthenticator("s3cret", access.WithIssuer("parley"))
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}
	tok, err := a.Issue(alice, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, cred := range []string{tok, "Bearer " + tok} {
		got, err := a.Authenticate(context.Background(), cred)
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", cred[:10], err)
		}
		if got != alice {
			t.Errorf("Authenticate = %+v, want %+v", got, alice)
		}
	}
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer, _ := access.NewJWTAuthenticator("s3cret", access.WithJWTClock(func() time.Time { return now }))
	expired, _ := issuer.Issue(alice, -time.Minute)
	valid, _ := issuer.Issue(alice, time.Hour)

	other, _ := access.NewJWTAuthenticator("other-secret", access.WithJWTClock(func() time.Time { return now }))
	wrongKey, _ := other.Issue(alice, time.Hour)

	strictIssuer, _ := access.NewJWTAuthenticator("s3cret",
		access.WithIssuer("parley"),
		access.WithJWTClock(func() time.Time { return now }))

	tests := []struct {
		name string
		auth *access.JWTAuthenticator
		cred string
	}{
		{name: "empty", auth: issuer, cred: ""},
		{name: "garbage", auth: issuer, cred: "not-a-token"},
		{name: "expired", auth: issuer, cred: expired},
		{name: "wrong key", auth: issuer, cred: wrongKey},
		{name: "missing issuer", auth: strictIssuer, cred: valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.auth.Authenticate(context.Background(), tt.cred)
			if !errors.Is(err, access.ErrInvalidCredential) {
				t.Errorf("Authenticate err = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestNewJWTAuthenticator_EmptySecret(t *testing.T) {
	t.Parallel()
	if _, err := access.NewJWTAuthenticator(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestTokenAuthenticator(t *testing.T) {
	t.Parallel()

	a := access.NewTokenAuthenticator([]access.StaticToken{{Token: "dev-alice", Participant: alice}})

	got, err := a.Authenticate(context.Background(), "Bearer dev-alice")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got != alice {
		t.Errorf("Authenticate = %+v, want %+v", got, alice)
	}
	if _, err := a.Authenticate(context.Background(), "dev-bob"); !errors.Is(err, access.ErrInvalidCredential) {
		t.Errorf("unknown token err = %v, want ErrInvalidCredential", err)
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	jwtAuth, _ := access.NewJWTAuthenticator("s3cret")
	chain := access.Chain{
		jwtAuth,
		access.NewTokenAuthenticator([]access.StaticToken{{Token: "dev-alice", Participant: alice}}),
	}

	got, err := chain.Authenticate(context.Background(), "dev-alice")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("ID = %q, want %q", got.ID, alice.ID)
	}
	if _, err := chain.Authenticate(context.Background(), "nope"); !errors.Is(err, access.ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
	if _, err := (access.Chain{}).Authenticate(context.Background(), "x"); !errors.Is(err, access.ErrInvalidCredential) {
		t.Errorf("empty chain err = %v, want ErrInvalidCredential", err)
	}
}

func TestPolicyAuthorizer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewMemStore()
	err := access.SeedPolicies(ctx, store, []memory.SessionPolicy{
		{SessionID: "private", HostID: "host", Invited: []string{"guest"}},
		{SessionID: "open", HostID: "host", Public: true},
	})
	if err != nil {
		t.Fatalf("SeedPolicies: %v", err)
	}
	authz := access.NewPolicyAuthorizer(store, false)

	tests := []struct {
		session, participant string
		want                 bool
	}{
		{"private", "host", true},
		{"private", "guest", true},
		{"private", "stranger", false},
		{"open", "stranger", true},
	}
	for _, tt := range tests {
		got, err := authz.CanAccess(ctx, tt.session, tt.participant)
		if err != nil {
			t.Fatalf("CanAccess(%s, %s): %v", tt.session, tt.participant, err)
		}
		if got != tt.want {
			t.Errorf("CanAccess(%s, %s) = %v, want %v", tt.session, tt.participant, got, tt.want)
		}
	}

	if _, err := authz.CanAccess(ctx, "unknown", "host"); !errors.Is(err, access.ErrSessionNotFound) {
		t.Errorf("unknown session err = %v, want ErrSessionNotFound", err)
	}
	authz.SetDefaultPublic(true)
	if ok, err := authz.CanAccess(ctx, "unknown", "anyone"); err != nil || !ok {
		t.Errorf("default public CanAccess = %v, %v; want true, nil", ok, err)
	}

	if ok, _ := authz.IsHost(ctx, "private", "host"); !ok {
		t.Error("IsHost(private, host) = false, want true")
	}
	if ok, _ := authz.IsHost(ctx, "private", "guest"); ok {
		t.Error("IsHost(private, guest) = true, want false")
	}
	if ok, err := authz.IsHost(ctx, "unknown", "host"); ok || err != nil {
		t.Errorf("IsHost(unknown) = %v, %v; want false, nil", ok, err)
	}
}
