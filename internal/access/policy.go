package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/memory"
)

// PolicyAuthorizer evaluates [memory.SessionPolicy] records.
//
// A participant may join when they host the session, are invited, or the
// session is public. Sessions without a stored policy follow the default
// visibility, which can be switched at runtime via [PolicyAuthorizer.SetDefaultPublic].
type PolicyAuthorizer struct {
	store         memory.PolicyStore
	defaultPublic atomic.Bool
}

// NewPolicyAuthorizer returns a [PolicyAuthorizer] backed by store.
func NewPolicyAuthorizer(store memory.PolicyStore, defaultPublic bool) *PolicyAuthorizer {
	a := &PolicyAuthorizer{store: store}
	a.defaultPublic.Store(defaultPublic)
	return a
}

var _ Authorizer = (*PolicyAuthorizer)(nil)

// SetDefaultPublic changes how sessions without a policy are treated.
func (a *PolicyAuthorizer) SetDefaultPublic(public bool) {
	a.defaultPublic.Store(public)
}

// CanAccess implements [Authorizer].
func (a *PolicyAuthorizer) CanAccess(ctx context.Context, sessionID, participantID string) (bool, error) {
	p, err := a.store.GetPolicy(ctx, sessionID)
	if errors.Is(err, memory.ErrNotFound) {
		if a.defaultPublic.Load() {
			return true, nil
		}
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("access: load policy: %w", err)
	}
	return p.Public || p.HostID == participantID || slices.Contains(p.Invited, participantID), nil
}

// IsHost implements [Authorizer]. Sessions without a policy have no host.
func (a *PolicyAuthorizer) IsHost(ctx context.Context, sessionID, participantID string) (bool, error) {
	p, err := a.store.GetPolicy(ctx, sessionID)
	if errors.Is(err, memory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("access: load policy: %w", err)
	}
	return p.HostID != "" && p.HostID == participantID, nil
}

// SeedPolicies writes policies into store, replacing existing records with
// the same session ID. Used to load policies from the configuration file.
func SeedPolicies(ctx context.Context, store memory.PolicyStore, policies []memory.SessionPolicy) error {
	for _, p := range policies {
		if err := store.PutPolicy(ctx, p); err != nil {
			return fmt.Errorf("access: seed policy %q: %w", p.SessionID, err)
		}
	}
	return nil
}
