package stores

import (
	"context"
	"fmt"
	"time"
)

// SetPolicyEnabled records a persistent enable/disable override for a
// policy by name.
func (s *SQLiteStore) SetPolicyEnabled(ctx context.Context, policy string, enabled bool) error {
	if policy == "" {
		return fmt.Errorf("policy name is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_overrides (policy, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(policy) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at
	`, policy, enabled, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set policy override: %w", err)
	}

	return nil
}

// ClearPolicyOverride removes the override for a policy, restoring its
// configured state.
func (s *SQLiteStore) ClearPolicyOverride(ctx context.Context, policy string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM policy_overrides WHERE policy = ?`, policy)
	if err != nil {
		return fmt.Errorf("failed to clear policy override: %w", err)
	}
	return nil
}

// ListDisabledPolicies returns the names of policies disabled by an
// override.
func (s *SQLiteStore) ListDisabledPolicies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy FROM policy_overrides WHERE enabled = 0 ORDER BY policy
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list disabled policies: %w", err)
	}
	defer rows.Close()

	var policies []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan policy name: %w", err)
		}
		policies = append(policies, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy overrides: %w", err)
	}

	return policies, nil
}
