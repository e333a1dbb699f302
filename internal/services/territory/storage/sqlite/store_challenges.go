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

// CreateChallenge inserts an open challenge. The partial unique index on
// unresolved rows makes the one-open-challenge-per-cell check atomic.
func (s *Store) CreateChallenge(ctx context.Context, challenge domain.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (
	id,
	hex_id,
	defender_id,
	attacker_id,
	defender_stake,
	attacker_stake,
	created_at,
	ends_at,
	resolved,
	winner_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '')
`,
		challenge.ID,
		challenge.HexID,
		challenge.DefenderID,
		challenge.AttackerID,
		challenge.DefenderStake,
		challenge.AttackerStake,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.EndsAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

// GetChallenge returns one challenge by id.
func (s *Store) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return domain.Challenge{}, err
	}
	if err := s.ready(); err != nil {
		return domain.Challenge{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, challengeSelect+`WHERE id = ?`, strings.TrimSpace(challengeID))
	return scanChallenge(row)
}

// GetOpenChallengeByHex returns the unresolved challenge for a cell, if any.
func (s *Store) GetOpenChallengeByHex(ctx context.Context, hexID string) (domain.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return domain.Challenge{}, err
	}
	if err := s.ready(); err != nil {
		return domain.Challenge{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, challengeSelect+`WHERE hex_id = ? AND resolved = 0`, strings.TrimSpace(hexID))
	return scanChallenge(row)
}

// ListOpenChallengesByGuild returns unresolved challenges where the guild is
// attacker or defender, soonest deadline first.
func (s *Store) ListOpenChallengesByGuild(ctx context.Context, guildID string) ([]domain.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	guildID = strings.TrimSpace(guildID)
	rows, err := s.sqlDB.QueryContext(ctx, challengeSelect+`
WHERE resolved = 0 AND (attacker_id = ? OR defender_id = ?)
ORDER BY ends_at, id
`, guildID, guildID)
	if err != nil {
		return nil, fmt.Errorf("list open challenges: %w", err)
	}
	defer rows.Close()
	return collectChallenges(rows)
}

// ListDueChallenges returns unresolved challenges whose window has expired,
// oldest deadline first.
func (s *Store) ListDueChallenges(ctx context.Context, now time.Time, limit int) ([]domain.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, challengeSelect+`
WHERE resolved = 0 AND ends_at <= ?
ORDER BY ends_at, id
LIMIT ?
`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list due challenges: %w", err)
	}
	defer rows.Close()
	return collectChallenges(rows)
}

// AddContribution applies one additive per-player delta in a single
// statement. The insert is guarded on the challenge being unresolved and
// inside its window at now, and the update on the player's locked guild
// side, so the hot path never read-modifies-writes.
func (s *Store) AddContribution(ctx context.Context, challengeID, username, guildID string, sharePointsDelta, tuneDelta int64, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if err := domain.ValidateDeltas(sharePointsDelta, tuneDelta); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO contributions (challenge_id, username, guild_id, share_points, tune_count, updated_at)
SELECT ?1, ?2, ?3, ?4, ?5, ?6
WHERE EXISTS (SELECT 1 FROM challenges WHERE id = ?1 AND resolved = 0 AND ends_at > ?6)
ON CONFLICT(challenge_id, username) DO UPDATE SET
	share_points = share_points + excluded.share_points,
	tune_count = tune_count + excluded.tune_count,
	updated_at = excluded.updated_at
WHERE contributions.guild_id = excluded.guild_id
`,
		strings.TrimSpace(challengeID),
		strings.TrimSpace(username),
		strings.TrimSpace(guildID),
		sharePointsDelta,
		tuneDelta,
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("add contribution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add contribution rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing changed: either the challenge is closed, past its window, or
	// the player already contributed for a different guild.
	var resolved int
	var endsAt int64
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT resolved, ends_at FROM challenges WHERE id = ?`, strings.TrimSpace(challengeID),
	).Scan(&resolved, &endsAt)
	if err == sql.ErrNoRows || (err == nil && (resolved != 0 || endsAt <= toMillis(now))) {
		return storage.ErrChallengeClosed
	}
	if err != nil {
		return fmt.Errorf("classify contribution failure: %w", err)
	}
	return storage.ErrSideMismatch
}

// ListContributions returns per-player contributions, largest share first.
func (s *Store) ListContributions(ctx context.Context, challengeID string) ([]domain.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT challenge_id, username, guild_id, share_points, tune_count, updated_at
FROM contributions
WHERE challenge_id = ?
ORDER BY share_points DESC, username
`, strings.TrimSpace(challengeID))
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var contributions []domain.Contribution
	for rows.Next() {
		var contribution domain.Contribution
		var updatedAt int64
		if err := rows.Scan(
			&contribution.ChallengeID,
			&contribution.Username,
			&contribution.GuildID,
			&contribution.SharePoints,
			&contribution.TuneCount,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		contribution.UpdatedAt = fromMillis(updatedAt)
		contributions = append(contributions, contribution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return contributions, nil
}

// ChallengeScores sums each side's contributions.
func (s *Store) ChallengeScores(ctx context.Context, challengeID string) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if err := s.ready(); err != nil {
		return 0, 0, err
	}

	challenge, err := s.GetChallenge(ctx, challengeID)
	if err != nil {
		return 0, 0, err
	}
	return challengeScoresTx(ctx, s.sqlDB, challenge)
}

// queryer covers *sql.DB and *sql.Tx for score aggregation.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func challengeScoresTx(ctx context.Context, q queryer, challenge domain.Challenge) (int64, int64, error) {
	attackerScore, err := sideScore(ctx, q, challenge.ID, challenge.AttackerID)
	if err != nil {
		return 0, 0, err
	}
	var defenderScore int64
	if challenge.DefenderID != "" {
		defenderScore, err = sideScore(ctx, q, challenge.ID, challenge.DefenderID)
		if err != nil {
			return 0, 0, err
		}
	}
	return defenderScore, attackerScore, nil
}

func sideScore(ctx context.Context, q queryer, challengeID, guildID string) (int64, error) {
	var score int64
	err := q.QueryRowContext(ctx, `
SELECT COALESCE(SUM(share_points), 0)
FROM contributions
WHERE challenge_id = ? AND guild_id = ?
`, challengeID, guildID).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("sum side score: %w", err)
	}
	return score, nil
}

const challengeSelect = `
SELECT id, hex_id, defender_id, attacker_id, defender_stake, attacker_stake,
	created_at, ends_at, resolved, winner_id, settled_at
FROM challenges
`

func collectChallenges(rows *sql.Rows) ([]domain.Challenge, error) {
	var challenges []domain.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate challenges: %w", err)
	}
	return challenges, nil
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var challenge domain.Challenge
	var createdAt, endsAt int64
	var resolved int
	var settledAt sql.NullInt64
	if err := row.Scan(
		&challenge.ID,
		&challenge.HexID,
		&challenge.DefenderID,
		&challenge.AttackerID,
		&challenge.DefenderStake,
		&challenge.AttackerStake,
		&createdAt,
		&endsAt,
		&resolved,
		&challenge.WinnerID,
		&settledAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Challenge{}, storage.ErrNotFound
		}
		return domain.Challenge{}, fmt.Errorf("scan challenge: %w", err)
	}
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.EndsAt = fromMillis(endsAt)
	challenge.Resolved = resolved != 0
	if settledAt.Valid {
		challenge.SettledAt = fromMillis(settledAt.Int64)
	}
	return challenge, nil
}
