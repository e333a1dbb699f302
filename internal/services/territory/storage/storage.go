// Package storage defines persistence contracts for territory-control
// state: cells, controls, challenges, contributions, and the stake-move
// payout journal.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hexwave/resonance/internal/services/territory/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already
	// exists, such as a second control for a cell or a second unresolved
	// challenge.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrSideMismatch indicates a contribution from a guild other than the
	// one the player already contributed for.
	ErrSideMismatch = errors.New("contribution guild does not match earlier contributions")
	// ErrChallengeClosed indicates a write against a challenge that is
	// resolved or gone.
	ErrChallengeClosed = errors.New("challenge is closed")
)

// CellStore persists the registry's hex-cell catalog.
type CellStore interface {
	UpsertCell(ctx context.Context, cell domain.Cell) error
	GetCell(ctx context.Context, hexID string) (domain.Cell, error)
	ListCells(ctx context.Context) ([]domain.Cell, error)
	UpdateTrafficScore(ctx context.Context, hexID string, trafficScore float64, now time.Time) error
}

// ControlStore persists cell control records, at most one per cell.
type ControlStore interface {
	// CreateControl inserts a control for an uncontrolled cell. It returns
	// ErrAlreadyExists when the cell already has a control row; the
	// check-and-insert is a single atomic write.
	CreateControl(ctx context.Context, control domain.Control) error
	GetControl(ctx context.Context, hexID string) (domain.Control, error)
	ListControlsByGuild(ctx context.Context, guildID string) ([]domain.Control, error)
	// ListLapsedControls returns controls whose window has passed and whose
	// cell has no unresolved challenge.
	ListLapsedControls(ctx context.Context, now time.Time, limit int) ([]domain.Control, error)
	// ReleaseControl removes the specific control window and journals the
	// stake refund in the same transaction. It reports false when the
	// window was already released, making duplicate sweeps harmless.
	ReleaseControl(ctx context.Context, hexID string, controlEndsAt time.Time, refund domain.StakeMove) (bool, error)
}

// ChallengeStore persists challenges and their contributions.
type ChallengeStore interface {
	// CreateChallenge inserts an open challenge. It returns
	// ErrAlreadyExists when the cell already has an unresolved challenge;
	// the one-open-challenge-per-cell rule is enforced by a partial unique
	// index, not a read-check.
	CreateChallenge(ctx context.Context, challenge domain.Challenge) error
	GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error)
	GetOpenChallengeByHex(ctx context.Context, hexID string) (domain.Challenge, error)
	ListOpenChallengesByGuild(ctx context.Context, guildID string) ([]domain.Challenge, error)
	ListDueChallenges(ctx context.Context, now time.Time, limit int) ([]domain.Challenge, error)

	// AddContribution atomically applies an additive per-player delta. The
	// challenge must be unresolved and inside its window at now; the
	// player's side is locked to the guild of their first contribution
	// (ErrSideMismatch otherwise).
	AddContribution(ctx context.Context, challengeID, username, guildID string, sharePointsDelta, tuneDelta int64, now time.Time) error
	ListContributions(ctx context.Context, challengeID string) ([]domain.Contribution, error)
	// ChallengeScores sums contributions per side. An empty defender side
	// scores zero.
	ChallengeScores(ctx context.Context, challengeID string) (defenderScore, attackerScore int64, err error)
}

// SettlementStore executes the terminal settlement step.
type SettlementStore interface {
	// SettleChallenge resolves a challenge in one transaction: it recomputes
	// the final side scores, plans the settlement, replaces the cell's
	// control, journals owed stake moves, and marks the challenge resolved.
	// An already-resolved challenge short-circuits with applied=false and
	// the stored terminal state.
	SettleChallenge(ctx context.Context, challengeID string, controlDuration time.Duration, now time.Time) (challenge domain.Challenge, applied bool, err error)

	// RecordStakeMove journals one owed ledger credit outside a settlement,
	// such as a refund whose immediate credit failed. Recording the same
	// move id twice is a no-op.
	RecordStakeMove(ctx context.Context, move domain.StakeMove) error
	// ListUnappliedMoves returns journaled stake moves not yet applied to
	// the ledger.
	ListUnappliedMoves(ctx context.Context, limit int) ([]domain.StakeMove, error)
	// MarkMoveApplied flags a journaled move as paid out. It reports false
	// when the move was already applied.
	MarkMoveApplied(ctx context.Context, moveID string, now time.Time) (bool, error)
	// ListMovesByChallenge returns the payout journal for one challenge.
	ListMovesByChallenge(ctx context.Context, challengeID string) ([]domain.StakeMove, error)
}

// AuditReport aggregates where every escrowed coin currently sits: locked
// in control rows, escrowed by open challenges, or owed as unapplied stake
// moves. Operators use it to verify stake conservation.
type AuditReport struct {
	Controls          int
	ControlStake      int64
	OpenChallenges    int
	OpenAttackerStake int64
	UnappliedMoves    int
	UnappliedAmount   int64
	AppliedMoves      int
	AppliedAmount     int64
}

// Auditor produces the conservation report.
type Auditor interface {
	Audit(ctx context.Context) (AuditReport, error)
}

// Store is the full territory persistence surface.
type Store interface {
	CellStore
	ControlStore
	ChallengeStore
	SettlementStore
	Auditor
}
