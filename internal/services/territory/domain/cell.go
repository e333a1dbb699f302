// Package domain holds the territory-control model: cells, controls,
// challenges, and contributions, plus the pure rules that govern staking and
// settlement.
package domain

import (
	"errors"
	"strings"
	"time"
)

// TrafficCategory buckets a cell by observed player traffic.
type TrafficCategory int

const (
	// TrafficLow marks cells below the medium traffic threshold.
	TrafficLow TrafficCategory = iota
	// TrafficMedium marks cells between the medium and high thresholds.
	TrafficMedium
	// TrafficHigh marks cells at or above the high traffic threshold.
	TrafficHigh
)

// Traffic thresholds separating the low, medium, and high categories.
const (
	TrafficMediumThreshold = 100.0
	TrafficHighThreshold   = 200.0
)

// baseStake is the stake floor for a low-traffic cell; higher categories
// scale it by the category multiplier.
const baseStake int64 = 100

// ErrEmptyHexID indicates a missing cell identifier.
var ErrEmptyHexID = errors.New("hex id is required")

// Cell is one hexagonal geographic unit. TrafficScore is recomputed
// out-of-band from node activity; everything else is static.
type Cell struct {
	HexID        string
	TrafficScore float64
	NodeCount    int
	UpdatedAt    time.Time
}

// Category returns the traffic category for the cell's current score.
func (c Cell) Category() TrafficCategory {
	return CategoryOf(c.TrafficScore)
}

// MinimumStake returns the smallest stake accepted to claim or contest the
// cell.
func (c Cell) MinimumStake() int64 {
	return MinimumStake(c.TrafficScore)
}

// CategoryOf buckets a raw traffic score.
func CategoryOf(trafficScore float64) TrafficCategory {
	switch {
	case trafficScore >= TrafficHighThreshold:
		return TrafficHigh
	case trafficScore >= TrafficMediumThreshold:
		return TrafficMedium
	default:
		return TrafficLow
	}
}

// MinimumStake is the stake floor as a function of traffic score: the base
// stake times 1, 2, or 3 for low, medium, and high traffic cells.
func MinimumStake(trafficScore float64) int64 {
	switch CategoryOf(trafficScore) {
	case TrafficHigh:
		return baseStake * 3
	case TrafficMedium:
		return baseStake * 2
	default:
		return baseStake
	}
}

// String returns the category name.
func (c TrafficCategory) String() string {
	switch c {
	case TrafficHigh:
		return "high"
	case TrafficMedium:
		return "medium"
	default:
		return "low"
	}
}

// NormalizeHexID trims and validates a cell identifier.
func NormalizeHexID(hexID string) (string, error) {
	hexID = strings.TrimSpace(hexID)
	if hexID == "" {
		return "", ErrEmptyHexID
	}
	return hexID, nil
}
