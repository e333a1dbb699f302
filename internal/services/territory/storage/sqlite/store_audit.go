package sqlite

import (
	"context"
	"fmt"

	"github.com/hexwave/resonance/internal/services/territory/storage"
)

// Audit aggregates the escrow positions for the conservation report.
func (s *Store) Audit(ctx context.Context) (storage.AuditReport, error) {
	if err := ctx.Err(); err != nil {
		return storage.AuditReport{}, err
	}
	if err := s.ready(); err != nil {
		return storage.AuditReport{}, err
	}

	var report storage.AuditReport
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(current_stake), 0) FROM controls
`).Scan(&report.Controls, &report.ControlStake)
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("audit controls: %w", err)
	}

	err = s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(attacker_stake), 0) FROM challenges WHERE resolved = 0
`).Scan(&report.OpenChallenges, &report.OpenAttackerStake)
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("audit challenges: %w", err)
	}

	err = s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM stake_moves WHERE applied = 0
`).Scan(&report.UnappliedMoves, &report.UnappliedAmount)
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("audit unapplied moves: %w", err)
	}

	err = s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM stake_moves WHERE applied = 1
`).Scan(&report.AppliedMoves, &report.AppliedAmount)
	if err != nil {
		return storage.AuditReport{}, fmt.Errorf("audit applied moves: %w", err)
	}
	return report, nil
}
