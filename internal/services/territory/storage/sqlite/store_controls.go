package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

// CreateControl atomically inserts a control for an uncontrolled cell.
func (s *Store) CreateControl(ctx context.Context, control domain.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if err := control.Validate(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO controls (hex_id, guild_id, current_stake, controlled_at, control_ends_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(hex_id) DO NOTHING
`,
		control.HexID,
		control.GuildID,
		control.CurrentStake,
		toMillis(control.ControlledAt),
		toMillis(control.ControlEndsAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create control: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create control rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

// GetControl returns the control row for a cell, lapsed or not.
func (s *Store) GetControl(ctx context.Context, hexID string) (domain.Control, error) {
	if err := ctx.Err(); err != nil {
		return domain.Control{}, err
	}
	if err := s.ready(); err != nil {
		return domain.Control{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT hex_id, guild_id, current_stake, controlled_at, control_ends_at
FROM controls
WHERE hex_id = ?
`, strings.TrimSpace(hexID))
	return scanControl(row)
}

// ListControlsByGuild returns a guild's holdings ordered by hex id.
func (s *Store) ListControlsByGuild(ctx context.Context, guildID string) ([]domain.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT hex_id, guild_id, current_stake, controlled_at, control_ends_at
FROM controls
WHERE guild_id = ?
ORDER BY hex_id
`, strings.TrimSpace(guildID))
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	defer rows.Close()
	return collectControls(rows)
}

// ListLapsedControls returns expired controls on cells with no open
// challenge, oldest expiry first.
func (s *Store) ListLapsedControls(ctx context.Context, now time.Time, limit int) ([]domain.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT c.hex_id, c.guild_id, c.current_stake, c.controlled_at, c.control_ends_at
FROM controls c
WHERE c.control_ends_at <= ?
  AND NOT EXISTS (
	SELECT 1 FROM challenges ch WHERE ch.hex_id = c.hex_id AND ch.resolved = 0
  )
ORDER BY c.control_ends_at, c.hex_id
LIMIT ?
`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed controls: %w", err)
	}
	defer rows.Close()
	return collectControls(rows)
}

// ReleaseControl removes one specific control window and journals its stake
// refund in the same transaction.
func (s *Store) ReleaseControl(ctx context.Context, hexID string, controlEndsAt time.Time, refund domain.StakeMove) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
DELETE FROM controls WHERE hex_id = ? AND control_ends_at = ?
`, strings.TrimSpace(hexID), toMillis(controlEndsAt))
	if err != nil {
		return false, fmt.Errorf("release control: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release control rows: %w", err)
	}
	if affected == 0 {
		// Already released by a concurrent sweep, or superseded by a newer
		// control window.
		return false, nil
	}

	if refund.Amount > 0 {
		if err := insertStakeMove(ctx, tx, refund); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit release: %w", err)
	}
	return true, nil
}

func collectControls(rows *sql.Rows) ([]domain.Control, error) {
	var controls []domain.Control
	for rows.Next() {
		control, err := scanControl(rows)
		if err != nil {
			return nil, err
		}
		controls = append(controls, control)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate controls: %w", err)
	}
	return controls, nil
}

func scanControl(row rowScanner) (domain.Control, error) {
	var control domain.Control
	var controlledAt, controlEndsAt int64
	if err := row.Scan(
		&control.HexID,
		&control.GuildID,
		&control.CurrentStake,
		&controlledAt,
		&controlEndsAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Control{}, storage.ErrNotFound
		}
		return domain.Control{}, fmt.Errorf("scan control: %w", err)
	}
	control.ControlledAt = fromMillis(controlledAt)
	control.ControlEndsAt = fromMillis(controlEndsAt)
	return control, nil
}
