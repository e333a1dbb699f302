package domain

import (
	"errors"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestNewChallengeSetsWindow(t *testing.T) {
	challenge, err := NewChallenge(NewChallengeInput{
		HexID:         "hex-1",
		DefenderID:    "guild-a",
		AttackerID:    "guild-b",
		DefenderStake: 300,
		AttackerStake: 300,
		Duration:      72 * time.Hour,
	}, fixedClock(), staticID("ch-1"))
	if err != nil {
		t.Fatalf("new challenge: %v", err)
	}
	if challenge.ID != "ch-1" {
		t.Fatalf("id = %q, want %q", challenge.ID, "ch-1")
	}
	if want := fixedClock().Add(72 * time.Hour); !challenge.EndsAt.Equal(want) {
		t.Fatalf("ends at = %v, want %v", challenge.EndsAt, want)
	}
	if challenge.Resolved {
		t.Fatal("new challenge must be unresolved")
	}
	if challenge.Pot() != 600 {
		t.Fatalf("pot = %d, want 600", challenge.Pot())
	}
}

func TestNewChallengeRejectsSelfChallenge(t *testing.T) {
	_, err := NewChallenge(NewChallengeInput{
		HexID:         "hex-1",
		DefenderID:    "guild-a",
		AttackerID:    "guild-a",
		DefenderStake: 300,
		AttackerStake: 300,
		Duration:      time.Hour,
	}, fixedClock(), staticID("ch-1"))
	if !errors.Is(err, ErrSelfChallenge) {
		t.Fatalf("err = %v, want ErrSelfChallenge", err)
	}
}

func TestNewChallengeAllowsUnclaimedContest(t *testing.T) {
	challenge, err := NewChallenge(NewChallengeInput{
		HexID:         "hex-1",
		AttackerID:    "guild-b",
		DefenderStake: 0,
		AttackerStake: 200,
		Duration:      time.Hour,
	}, fixedClock(), staticID("ch-1"))
	if err != nil {
		t.Fatalf("new challenge: %v", err)
	}
	if challenge.DefenderID != "" {
		t.Fatalf("defender = %q, want empty", challenge.DefenderID)
	}
	if challenge.Pot() != 200 {
		t.Fatalf("pot = %d, want 200", challenge.Pot())
	}
}

func TestWinnerTieGoesToDefender(t *testing.T) {
	challenge := Challenge{DefenderID: "guild-a", AttackerID: "guild-b"}
	if got := challenge.Winner(120, 120); got != SideDefender {
		t.Fatalf("tie winner = %v, want defender", got)
	}
	if got := challenge.Winner(100, 150); got != SideAttacker {
		t.Fatalf("winner = %v, want attacker", got)
	}
	if got := challenge.Winner(150, 100); got != SideDefender {
		t.Fatalf("winner = %v, want defender", got)
	}
}

func TestWinnerZeroScoreUnclaimedContest(t *testing.T) {
	// Attacker must outscore the fixed zero of the empty defender side.
	challenge := Challenge{AttackerID: "guild-b"}
	if got := challenge.Winner(0, 0); got != SideDefender {
		t.Fatalf("winner = %v, want defender side (no takeover)", got)
	}
	if got := challenge.Winner(0, 1); got != SideAttacker {
		t.Fatalf("winner = %v, want attacker", got)
	}
}

func TestSideOf(t *testing.T) {
	challenge := Challenge{DefenderID: "guild-a", AttackerID: "guild-b"}
	if got := challenge.SideOf("guild-a"); got != SideDefender {
		t.Fatalf("side = %v, want defender", got)
	}
	if got := challenge.SideOf("guild-b"); got != SideAttacker {
		t.Fatalf("side = %v, want attacker", got)
	}
	if got := challenge.SideOf("guild-c"); got != SideNone {
		t.Fatalf("side = %v, want none", got)
	}
	if got := (Challenge{AttackerID: "guild-b"}).SideOf(""); got != SideNone {
		t.Fatalf("side of empty guild = %v, want none", got)
	}
}

func TestDue(t *testing.T) {
	challenge := Challenge{EndsAt: fixedClock()}
	if challenge.Due(fixedClock().Add(-time.Second)) {
		t.Fatal("challenge should not be due before EndsAt")
	}
	if !challenge.Due(fixedClock()) {
		t.Fatal("challenge should be due at EndsAt")
	}
}
