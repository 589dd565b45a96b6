package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/parley/pkg/memory"
)

// GetPolicy implements [memory.PolicyStore].
func (s *Store) GetPolicy(ctx context.Context, sessionID string) (memory.SessionPolicy, error) {
	const q = `
		SELECT session_id, host_id, public, invited
		FROM   session_policies
		WHERE  session_id = $1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return memory.SessionPolicy{}, fmt.Errorf("policy store: get: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (memory.SessionPolicy, error) {
		var p memory.SessionPolicy
		err := row.Scan(&p.SessionID, &p.HostID, &p.Public, &p.Invited)
		return p, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.SessionPolicy{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.SessionPolicy{}, fmt.Errorf("policy store: scan: %w", err)
	}
	return p, nil
}

// PutPolicy implements [memory.PolicyStore].
func (s *Store) PutPolicy(ctx context.Context, p memory.SessionPolicy) error {
	const q = `
		INSERT INTO session_policies (session_id, host_id, public, invited, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id) DO UPDATE SET
		    host_id    = EXCLUDED.host_id,
		    public     = EXCLUDED.public,
		    invited    = EXCLUDED.invited,
		    updated_at = now()`

	invited := p.Invited
	if invited == nil {
		invited = []string{}
	}
	if _, err := s.pool.Exec(ctx, q, p.SessionID, p.HostID, p.Public, invited); err != nil {
		return fmt.Errorf("policy store: put: %w", err)
	}
	return nil
}
