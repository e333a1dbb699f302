package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyGuildID indicates a missing guild identifier.
	ErrEmptyGuildID = errors.New("guild id is required")
	// ErrInvalidStake indicates a non-positive stake amount.
	ErrInvalidStake = errors.New("stake must be greater than zero")
	// ErrInvalidControlWindow indicates a control period that does not end
	// after it starts.
	ErrInvalidControlWindow = errors.New("control must end after it starts")
)

// Control binds a cell to its controlling guild until ControlEndsAt. A cell
// with no Control is unclaimed.
type Control struct {
	HexID         string
	GuildID       string
	CurrentStake  int64
	ControlledAt  time.Time
	ControlEndsAt time.Time
}

// NewControl builds a validated control window starting at now.
func NewControl(hexID, guildID string, stake int64, duration time.Duration, now time.Time) (Control, error) {
	hexID, err := NormalizeHexID(hexID)
	if err != nil {
		return Control{}, err
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return Control{}, ErrEmptyGuildID
	}
	if stake <= 0 {
		return Control{}, ErrInvalidStake
	}
	if duration <= 0 {
		return Control{}, ErrInvalidControlWindow
	}

	controlledAt := now.UTC()
	return Control{
		HexID:         hexID,
		GuildID:       guildID,
		CurrentStake:  stake,
		ControlledAt:  controlledAt,
		ControlEndsAt: controlledAt.Add(duration),
	}, nil
}

// Validate checks the control window invariant.
func (c Control) Validate() error {
	if !c.ControlEndsAt.After(c.ControlledAt) {
		return fmt.Errorf("control for %s: %w", c.HexID, ErrInvalidControlWindow)
	}
	return nil
}

// Lapsed reports whether the control period has passed. A lapsed,
// unchallenged control does not auto-renew; the sweeper releases it.
func (c Control) Lapsed(now time.Time) bool {
	return !c.ControlEndsAt.After(now)
}
