package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hexwave/resonance/internal/platform/id"
)

var (
	// ErrSelfChallenge indicates a guild contesting its own cell.
	ErrSelfChallenge = errors.New("a guild cannot challenge its own territory")
	// ErrInvalidChallengeWindow indicates a challenge that does not end
	// after it opens.
	ErrInvalidChallengeWindow = errors.New("challenge must end after it opens")
)

// Side identifies which party of a challenge a guild fights for.
type Side int

const (
	// SideNone means the guild is not part of the challenge.
	SideNone Side = iota
	// SideDefender is the incumbent controller's side.
	SideDefender
	// SideAttacker is the challenger's side.
	SideAttacker
)

// Challenge is a time-boxed contest over one cell. DefenderID is empty for a
// contest over an unclaimed cell; that side's score stays fixed at zero.
// Stakes are escrowed at open time.
type Challenge struct {
	ID            string
	HexID         string
	DefenderID    string
	AttackerID    string
	DefenderStake int64
	AttackerStake int64
	CreatedAt     time.Time
	EndsAt        time.Time
	Resolved      bool
	WinnerID      string
	SettledAt     time.Time
}

// NewChallengeInput describes the parameters for opening a challenge.
type NewChallengeInput struct {
	HexID         string
	DefenderID    string // empty for an unclaimed-cell contest
	AttackerID    string
	DefenderStake int64
	AttackerStake int64
	Duration      time.Duration
}

// NewChallenge builds a validated open challenge starting at now.
func NewChallenge(input NewChallengeInput, now time.Time, idGenerator func() (string, error)) (Challenge, error) {
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	hexID, err := NormalizeHexID(input.HexID)
	if err != nil {
		return Challenge{}, err
	}
	attackerID := strings.TrimSpace(input.AttackerID)
	if attackerID == "" {
		return Challenge{}, ErrEmptyGuildID
	}
	defenderID := strings.TrimSpace(input.DefenderID)
	if defenderID == attackerID && defenderID != "" {
		return Challenge{}, ErrSelfChallenge
	}
	if input.AttackerStake <= 0 {
		return Challenge{}, ErrInvalidStake
	}
	if input.DefenderStake < 0 {
		return Challenge{}, ErrInvalidStake
	}
	if input.Duration <= 0 {
		return Challenge{}, ErrInvalidChallengeWindow
	}

	challengeID, err := idGenerator()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge id: %w", err)
	}

	createdAt := now.UTC()
	return Challenge{
		ID:            challengeID,
		HexID:         hexID,
		DefenderID:    defenderID,
		AttackerID:    attackerID,
		DefenderStake: input.DefenderStake,
		AttackerStake: input.AttackerStake,
		CreatedAt:     createdAt,
		EndsAt:        createdAt.Add(input.Duration),
	}, nil
}

// Due reports whether the challenge window has expired.
func (c Challenge) Due(now time.Time) bool {
	return !c.EndsAt.After(now)
}

// SideOf returns which side of the challenge guildID fights for.
func (c Challenge) SideOf(guildID string) Side {
	switch guildID {
	case "":
		return SideNone
	case c.AttackerID:
		return SideAttacker
	case c.DefenderID:
		return SideDefender
	default:
		return SideNone
	}
}

// Pot is the combined escrowed stake at risk in the challenge.
func (c Challenge) Pot() int64 {
	return c.DefenderStake + c.AttackerStake
}

// Winner applies the settlement rule to the final side scores: the higher
// score wins and a tie goes to the defender. For an unclaimed-cell contest
// the defender side is the empty guild with a score of zero, so an attacker
// with no contributions takes nothing.
func (c Challenge) Winner(defenderScore, attackerScore int64) Side {
	if attackerScore > defenderScore {
		return SideAttacker
	}
	return SideDefender
}
