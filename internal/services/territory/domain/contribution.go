package domain

import (
	"errors"
	"time"
)

var (
	// ErrEmptyUsername indicates a missing player name.
	ErrEmptyUsername = errors.New("username is required")
	// ErrNegativeDelta indicates a decrementing contribution delta.
	ErrNegativeDelta = errors.New("contribution deltas cannot be negative")
	// ErrEmptyDelta indicates a contribution with nothing to add.
	ErrEmptyDelta = errors.New("contribution must add share points or tunes")
)

// Contribution accumulates one player's effort toward their guild's side of
// a challenge. SharePoints and TuneCount only ever increase.
type Contribution struct {
	ChallengeID string
	Username    string
	GuildID     string
	SharePoints int64
	TuneCount   int64
	UpdatedAt   time.Time
}

// ValidateDeltas checks an incremental contribution before it is applied.
func ValidateDeltas(sharePointsDelta, tuneDelta int64) error {
	if sharePointsDelta < 0 || tuneDelta < 0 {
		return ErrNegativeDelta
	}
	if sharePointsDelta == 0 && tuneDelta == 0 {
		return ErrEmptyDelta
	}
	return nil
}
