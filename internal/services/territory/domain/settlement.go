package domain

import (
	"fmt"
	"time"
)

// Stake move reasons recorded in the payout journal.
const (
	// MoveReasonForfeit credits a forfeited attacker stake to the winning
	// defender guild.
	MoveReasonForfeit = "attacker_forfeit"
	// MoveReasonLapseRefund returns the stake of a lapsed, unchallenged
	// control to its guild.
	MoveReasonLapseRefund = "lapse_refund"
	// MoveReasonContestRefund returns an attacker's stake after a failed
	// contest over an unclaimed cell, where no defender exists to collect
	// the forfeit.
	MoveReasonContestRefund = "contest_refund"
	// MoveReasonRaceRefund returns a stake debited for a claim or challenge
	// that lost its check-and-insert race, when the immediate compensating
	// credit could not be paid.
	MoveReasonRaceRefund = "race_refund"
)

// StakeMove is one owed ledger credit. MoveID is deterministic for its
// cause, so recording the same move twice is impossible and applying it is
// retryable.
type StakeMove struct {
	MoveID      string
	ChallengeID string
	GuildID     string
	Amount      int64
	Reason      string
	CreatedAt   time.Time
	Applied     bool
	AppliedAt   time.Time
}

// SettlementPlan is the full effect of settling one challenge: the terminal
// challenge fields, the control mutation, and any owed ledger credits.
type SettlementPlan struct {
	ChallengeID string
	WinnerID    string
	WinnerSide  Side
	SettledAt   time.Time

	// NewControl replaces the cell's control row when a guild holds the
	// cell after settlement. It is zero (empty GuildID) only when a contest
	// over an unclaimed cell failed and the cell stays unclaimed.
	NewControl Control

	// Moves are the ledger credits owed by this settlement.
	Moves []StakeMove
}

// PlanSettlement applies the settlement policy to a due challenge and its
// final side scores.
//
// Attacker wins: the combined pot becomes the stake of a fresh control owned
// by the attacker; the defender's stake is forfeited into the pot, so no
// ledger moves are owed. Defender wins, including ties: control resets to a
// fresh window with the defender's stake unchanged, and the attacker's stake
// is credited to the defender's vault. A failed contest over an unclaimed
// cell has no incumbent to collect the forfeit, so the attacker's stake is
// refunded and the cell stays unclaimed; either way every escrowed coin is
// accounted for in the new control stake plus the recorded moves.
func PlanSettlement(challenge Challenge, defenderScore, attackerScore int64, controlDuration time.Duration, now time.Time) (SettlementPlan, error) {
	if challenge.Resolved {
		return SettlementPlan{}, fmt.Errorf("challenge %s is already resolved", challenge.ID)
	}
	if controlDuration <= 0 {
		return SettlementPlan{}, ErrInvalidControlWindow
	}

	now = now.UTC()
	plan := SettlementPlan{
		ChallengeID: challenge.ID,
		WinnerSide:  challenge.Winner(defenderScore, attackerScore),
		SettledAt:   now,
	}

	switch plan.WinnerSide {
	case SideAttacker:
		plan.WinnerID = challenge.AttackerID
		control, err := NewControl(challenge.HexID, challenge.AttackerID, challenge.Pot(), controlDuration, now)
		if err != nil {
			return SettlementPlan{}, err
		}
		plan.NewControl = control
	default:
		plan.WinnerID = challenge.DefenderID
		if challenge.DefenderID == "" {
			// Failed contest over an unclaimed cell: the cell stays
			// unclaimed and the escrow goes back to the attacker.
			plan.Moves = append(plan.Moves, StakeMove{
				MoveID:      "settle:" + challenge.ID,
				ChallengeID: challenge.ID,
				GuildID:     challenge.AttackerID,
				Amount:      challenge.AttackerStake,
				Reason:      MoveReasonContestRefund,
				CreatedAt:   now,
			})
			return plan, nil
		}
		control, err := NewControl(challenge.HexID, challenge.DefenderID, challenge.DefenderStake, controlDuration, now)
		if err != nil {
			return SettlementPlan{}, err
		}
		plan.NewControl = control
		plan.Moves = append(plan.Moves, StakeMove{
			MoveID:      "settle:" + challenge.ID,
			ChallengeID: challenge.ID,
			GuildID:     challenge.DefenderID,
			Amount:      challenge.AttackerStake,
			Reason:      MoveReasonForfeit,
			CreatedAt:   now,
		})
	}
	return plan, nil
}

// LapseMoveID is the deterministic journal key for refunding one specific
// control window.
func LapseMoveID(hexID string, controlEndsAt time.Time) string {
	return fmt.Sprintf("lapse:%s:%d", hexID, controlEndsAt.UTC().UnixMilli())
}

// RaceRefundMoveID is the journal key for returning a debit whose claim or
// challenge lost its insert race.
func RaceRefundMoveID(hexID, guildID string, now time.Time) string {
	return fmt.Sprintf("race:%s:%s:%d", hexID, guildID, now.UTC().UnixMilli())
}
