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

// SettleChallenge resolves a due challenge in one transaction: side scores
// are summed, the winner is decided, the control row is replaced, and any
// owed ledger credits are journaled. Contributions recorded after the
// transaction starts cannot affect the outcome. Returns applied=false if the
// challenge was already resolved.
func (s *Store) SettleChallenge(ctx context.Context, challengeID string, controlDuration time.Duration, now time.Time) (domain.Challenge, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Challenge{}, false, err
	}
	if err := s.ready(); err != nil {
		return domain.Challenge{}, false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, false, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, challengeSelect+`WHERE id = ?`, strings.TrimSpace(challengeID))
	challenge, err := scanChallenge(row)
	if err != nil {
		return domain.Challenge{}, false, err
	}
	if challenge.Resolved {
		return challenge, false, nil
	}

	defenderScore, attackerScore, err := challengeScoresTx(ctx, tx, challenge)
	if err != nil {
		return domain.Challenge{}, false, err
	}

	plan, err := domain.PlanSettlement(challenge, defenderScore, attackerScore, controlDuration, now)
	if err != nil {
		return domain.Challenge{}, false, err
	}

	if plan.NewControl.GuildID != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM controls WHERE hex_id = ?`, challenge.HexID,
		); err != nil {
			return domain.Challenge{}, false, fmt.Errorf("clear control: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO controls (hex_id, guild_id, current_stake, controlled_at, control_ends_at)
VALUES (?, ?, ?, ?, ?)
`,
			plan.NewControl.HexID,
			plan.NewControl.GuildID,
			plan.NewControl.CurrentStake,
			toMillis(plan.NewControl.ControlledAt),
			toMillis(plan.NewControl.ControlEndsAt),
		); err != nil {
			return domain.Challenge{}, false, fmt.Errorf("install control: %w", err)
		}
	}

	for _, move := range plan.Moves {
		if err := insertStakeMove(ctx, tx, move); err != nil {
			return domain.Challenge{}, false, err
		}
	}

	result, err := tx.ExecContext(ctx, `
UPDATE challenges SET resolved = 1, winner_id = ?, settled_at = ?
WHERE id = ? AND resolved = 0
`, plan.WinnerID, toMillis(plan.SettledAt), challenge.ID)
	if err != nil {
		return domain.Challenge{}, false, fmt.Errorf("close challenge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Challenge{}, false, fmt.Errorf("close challenge rows: %w", err)
	}
	if affected == 0 {
		return domain.Challenge{}, false, fmt.Errorf("challenge %s changed during settlement", challenge.ID)
	}

	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, false, fmt.Errorf("commit settlement: %w", err)
	}

	challenge.Resolved = true
	challenge.WinnerID = plan.WinnerID
	challenge.SettledAt = plan.SettledAt
	return challenge, true, nil
}

// RecordStakeMove journals one owed credit outside a settlement
// transaction. The deterministic move id makes a repeat a no-op.
func (s *Store) RecordStakeMove(ctx context.Context, move domain.StakeMove) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	return insertStakeMove(ctx, s.sqlDB, move)
}

// ListUnappliedMoves returns journaled ledger credits that have not been
// pushed to a vault yet, oldest first.
func (s *Store) ListUnappliedMoves(ctx context.Context, limit int) ([]domain.StakeMove, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, stakeMoveSelect+`
WHERE applied = 0
ORDER BY created_at, move_id
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unapplied moves: %w", err)
	}
	defer rows.Close()
	return collectStakeMoves(rows)
}

// MarkMoveApplied flags a journaled credit as paid out. The conditional
// update doubles as a claim: exactly one caller observes true for a given
// move, so concurrent appliers cannot both credit it.
func (s *Store) MarkMoveApplied(ctx context.Context, moveID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	moveID = strings.TrimSpace(moveID)
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE stake_moves SET applied = 1, applied_at = ?
WHERE move_id = ? AND applied = 0
`, toMillis(now), moveID)
	if err != nil {
		return false, fmt.Errorf("mark move applied: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark move rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM stake_moves WHERE move_id = ?`, moveID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check move: %w", err)
	}
	return false, nil
}

// ListMovesByChallenge returns every journaled move for a challenge.
func (s *Store) ListMovesByChallenge(ctx context.Context, challengeID string) ([]domain.StakeMove, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, stakeMoveSelect+`
WHERE challenge_id = ?
ORDER BY created_at, move_id
`, strings.TrimSpace(challengeID))
	if err != nil {
		return nil, fmt.Errorf("list challenge moves: %w", err)
	}
	defer rows.Close()
	return collectStakeMoves(rows)
}

// execer covers *sql.DB and *sql.Tx for journal inserts.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertStakeMove journals one owed credit. Deterministic move IDs make the
// insert idempotent: a retry of the same cause is ignored.
func insertStakeMove(ctx context.Context, e execer, move domain.StakeMove) error {
	_, err := e.ExecContext(ctx, `
INSERT INTO stake_moves (move_id, challenge_id, guild_id, amount, reason, created_at, applied)
VALUES (?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(move_id) DO NOTHING
`,
		move.MoveID,
		move.ChallengeID,
		move.GuildID,
		move.Amount,
		move.Reason,
		toMillis(move.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("journal stake move: %w", err)
	}
	return nil
}

const stakeMoveSelect = `
SELECT move_id, challenge_id, guild_id, amount, reason, created_at, applied, applied_at
FROM stake_moves
`

func collectStakeMoves(rows *sql.Rows) ([]domain.StakeMove, error) {
	var moves []domain.StakeMove
	for rows.Next() {
		var move domain.StakeMove
		var createdAt int64
		var applied int
		var appliedAt sql.NullInt64
		if err := rows.Scan(
			&move.MoveID,
			&move.ChallengeID,
			&move.GuildID,
			&move.Amount,
			&move.Reason,
			&createdAt,
			&applied,
			&appliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stake move: %w", err)
		}
		move.CreatedAt = fromMillis(createdAt)
		move.Applied = applied != 0
		if appliedAt.Valid {
			move.AppliedAt = fromMillis(appliedAt.Int64)
		}
		moves = append(moves, move)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stake moves: %w", err)
	}
	return moves, nil
}
