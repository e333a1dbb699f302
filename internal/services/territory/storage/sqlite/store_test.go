package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "territory.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func testNow() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func mustControl(t *testing.T, hexID, guildID string, stake int64, now time.Time) domain.Control {
	t.Helper()
	control, err := domain.NewControl(hexID, guildID, stake, 168*time.Hour, now)
	if err != nil {
		t.Fatalf("NewControl() error = %v", err)
	}
	return control
}

func mustChallenge(t *testing.T, challengeID, hexID, defenderID, attackerID string, defenderStake, attackerStake int64, now time.Time) domain.Challenge {
	t.Helper()
	challenge, err := domain.NewChallenge(domain.NewChallengeInput{
		HexID:         hexID,
		DefenderID:    defenderID,
		AttackerID:    attackerID,
		DefenderStake: defenderStake,
		AttackerStake: attackerStake,
		Duration:      72 * time.Hour,
	}, now, func() (string, error) { return challengeID, nil })
	if err != nil {
		t.Fatalf("NewChallenge() error = %v", err)
	}
	return challenge
}

func TestCellRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	cell := domain.Cell{HexID: "hex-1", TrafficScore: 150, NodeCount: 12, UpdatedAt: now}
	if err := store.UpsertCell(ctx, cell); err != nil {
		t.Fatalf("UpsertCell() error = %v", err)
	}

	got, err := store.GetCell(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetCell() error = %v", err)
	}
	if got.TrafficScore != 150 || got.NodeCount != 12 {
		t.Fatalf("GetCell() = %+v, want score 150 and 12 nodes", got)
	}

	cell.NodeCount = 15
	if err := store.UpsertCell(ctx, cell); err != nil {
		t.Fatalf("UpsertCell() update error = %v", err)
	}
	got, err = store.GetCell(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetCell() after update error = %v", err)
	}
	if got.NodeCount != 15 {
		t.Fatalf("NodeCount = %d, want 15", got.NodeCount)
	}

	if _, err := store.GetCell(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetCell(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateTrafficScore(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	if err := store.UpsertCell(ctx, domain.Cell{HexID: "hex-1", UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertCell() error = %v", err)
	}
	if err := store.UpdateTrafficScore(ctx, "hex-1", 210, now.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateTrafficScore() error = %v", err)
	}
	got, err := store.GetCell(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetCell() error = %v", err)
	}
	if got.TrafficScore != 210 {
		t.Fatalf("TrafficScore = %v, want 210", got.TrafficScore)
	}
	if got.Category() != domain.TrafficHigh {
		t.Fatalf("Category() = %v, want high", got.Category())
	}

	err = store.UpdateTrafficScore(ctx, "missing", 5, now)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("UpdateTrafficScore(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreateControlSingleHolder(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	if err := store.CreateControl(ctx, mustControl(t, "hex-1", "guild-a", 100, now)); err != nil {
		t.Fatalf("CreateControl() error = %v", err)
	}
	err := store.CreateControl(ctx, mustControl(t, "hex-1", "guild-b", 200, now))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("CreateControl() second error = %v, want ErrAlreadyExists", err)
	}

	got, err := store.GetControl(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetControl() error = %v", err)
	}
	if got.GuildID != "guild-a" || got.CurrentStake != 100 {
		t.Fatalf("GetControl() = %+v, want guild-a holding 100", got)
	}
}

func TestReleaseControlJournalsRefund(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	control := mustControl(t, "hex-1", "guild-a", 100, now)
	if err := store.CreateControl(ctx, control); err != nil {
		t.Fatalf("CreateControl() error = %v", err)
	}

	refund := domain.StakeMove{
		MoveID:    domain.LapseMoveID(control.HexID, control.ControlEndsAt),
		GuildID:   control.GuildID,
		Amount:    control.CurrentStake,
		Reason:    domain.MoveReasonLapseRefund,
		CreatedAt: now,
	}
	released, err := store.ReleaseControl(ctx, "hex-1", control.ControlEndsAt, refund)
	if err != nil {
		t.Fatalf("ReleaseControl() error = %v", err)
	}
	if !released {
		t.Fatal("ReleaseControl() = false, want true")
	}

	if _, err := store.GetControl(ctx, "hex-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetControl() after release error = %v, want ErrNotFound", err)
	}

	moves, err := store.ListUnappliedMoves(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnappliedMoves() error = %v", err)
	}
	if len(moves) != 1 {
		t.Fatalf("unapplied moves = %d, want 1", len(moves))
	}
	if moves[0].MoveID != refund.MoveID || moves[0].Amount != 100 || moves[0].Reason != domain.MoveReasonLapseRefund {
		t.Fatalf("refund move = %+v", moves[0])
	}

	// A concurrent sweep that lost the race observes false and must not
	// journal a second refund.
	released, err = store.ReleaseControl(ctx, "hex-1", control.ControlEndsAt, refund)
	if err != nil {
		t.Fatalf("ReleaseControl() repeat error = %v", err)
	}
	if released {
		t.Fatal("ReleaseControl() repeat = true, want false")
	}
	moves, err = store.ListUnappliedMoves(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnappliedMoves() repeat error = %v", err)
	}
	if len(moves) != 1 {
		t.Fatalf("unapplied moves after repeat = %d, want 1", len(moves))
	}
}

func TestReleaseControlWrongWindow(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	control := mustControl(t, "hex-1", "guild-a", 100, now)
	if err := store.CreateControl(ctx, control); err != nil {
		t.Fatalf("CreateControl() error = %v", err)
	}

	released, err := store.ReleaseControl(ctx, "hex-1", control.ControlEndsAt.Add(time.Hour), domain.StakeMove{})
	if err != nil {
		t.Fatalf("ReleaseControl() error = %v", err)
	}
	if released {
		t.Fatal("ReleaseControl() with wrong window = true, want false")
	}
	if _, err := store.GetControl(ctx, "hex-1"); err != nil {
		t.Fatalf("control should survive, GetControl() error = %v", err)
	}
}

func TestListLapsedControlsSkipsContestedCells(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	lapsed := mustControl(t, "hex-1", "guild-a", 100, now.Add(-200*time.Hour))
	contested := mustControl(t, "hex-2", "guild-b", 100, now.Add(-200*time.Hour))
	active := mustControl(t, "hex-3", "guild-c", 100, now)
	for _, control := range []domain.Control{lapsed, contested, active} {
		if err := store.CreateControl(ctx, control); err != nil {
			t.Fatalf("CreateControl(%s) error = %v", control.HexID, err)
		}
	}
	challenge := mustChallenge(t, "ch-1", "hex-2", "guild-b", "guild-d", 100, 100, now.Add(-time.Hour))
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}

	got, err := store.ListLapsedControls(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListLapsedControls() error = %v", err)
	}
	if len(got) != 1 || got[0].HexID != "hex-1" {
		t.Fatalf("ListLapsedControls() = %+v, want only hex-1", got)
	}
}

func TestCreateChallengeOnePerCell(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	first := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	if err := store.CreateChallenge(ctx, first); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}
	second := mustChallenge(t, "ch-2", "hex-1", "guild-a", "guild-c", 100, 150, now)
	if err := store.CreateChallenge(ctx, second); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("CreateChallenge() second error = %v, want ErrAlreadyExists", err)
	}

	// Settling the open challenge frees the cell for a new one.
	if _, _, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, now.Add(73*time.Hour)); err != nil {
		t.Fatalf("SettleChallenge() error = %v", err)
	}
	if err := store.CreateChallenge(ctx, second); err != nil {
		t.Fatalf("CreateChallenge() after settle error = %v", err)
	}
}

func TestGetOpenChallengeByHex(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}

	got, err := store.GetOpenChallengeByHex(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetOpenChallengeByHex() error = %v", err)
	}
	if got.ID != "ch-1" || got.AttackerID != "guild-b" {
		t.Fatalf("GetOpenChallengeByHex() = %+v", got)
	}

	if _, err := store.GetOpenChallengeByHex(ctx, "hex-9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetOpenChallengeByHex(hex-9) error = %v, want ErrNotFound", err)
	}
}

func TestListOpenChallengesByGuild(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	asDefender := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	asAttacker := mustChallenge(t, "ch-2", "hex-2", "guild-c", "guild-a", 100, 100, now.Add(-time.Hour))
	uninvolved := mustChallenge(t, "ch-3", "hex-3", "guild-b", "guild-c", 100, 100, now)
	for _, challenge := range []domain.Challenge{asDefender, asAttacker, uninvolved} {
		if err := store.CreateChallenge(ctx, challenge); err != nil {
			t.Fatalf("CreateChallenge(%s) error = %v", challenge.ID, err)
		}
	}

	got, err := store.ListOpenChallengesByGuild(ctx, "guild-a")
	if err != nil {
		t.Fatalf("ListOpenChallengesByGuild() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("open challenges = %d, want 2", len(got))
	}
	if got[0].ID != "ch-2" || got[1].ID != "ch-1" {
		t.Fatalf("order = [%s %s], want nearest deadline first", got[0].ID, got[1].ID)
	}
}

func TestListDueChallenges(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	due := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now.Add(-80*time.Hour))
	pending := mustChallenge(t, "ch-2", "hex-2", "guild-a", "guild-b", 100, 100, now)
	for _, challenge := range []domain.Challenge{due, pending} {
		if err := store.CreateChallenge(ctx, challenge); err != nil {
			t.Fatalf("CreateChallenge(%s) error = %v", challenge.ID, err)
		}
	}

	got, err := store.ListDueChallenges(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueChallenges() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "ch-1" {
		t.Fatalf("ListDueChallenges() = %+v, want only ch-1", got)
	}
}

func TestAddContributionAccumulates(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}

	if err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 10, 1, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 5, 0, now.Add(time.Minute)); err != nil {
		t.Fatalf("AddContribution() second error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "bob", "guild-a", 8, 2, now); err != nil {
		t.Fatalf("AddContribution() defender error = %v", err)
	}

	contributions, err := store.ListContributions(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ListContributions() error = %v", err)
	}
	if len(contributions) != 2 {
		t.Fatalf("contributions = %d, want 2", len(contributions))
	}
	if contributions[0].Username != "ada" || contributions[0].SharePoints != 15 || contributions[0].TuneCount != 1 {
		t.Fatalf("top contribution = %+v, want ada with 15 points and 1 tune", contributions[0])
	}

	defenderScore, attackerScore, err := store.ChallengeScores(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ChallengeScores() error = %v", err)
	}
	if defenderScore != 8 || attackerScore != 15 {
		t.Fatalf("scores = (%d, %d), want (8, 15)", defenderScore, attackerScore)
	}
}

func TestAddContributionSideLocked(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 10, 0, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}

	err := store.AddContribution(ctx, "ch-1", "ada", "guild-a", 5, 0, now)
	if !errors.Is(err, storage.ErrSideMismatch) {
		t.Fatalf("AddContribution() cross-guild error = %v, want ErrSideMismatch", err)
	}

	defenderScore, attackerScore, err := store.ChallengeScores(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ChallengeScores() error = %v", err)
	}
	if defenderScore != 0 || attackerScore != 10 {
		t.Fatalf("scores = (%d, %d), want (0, 10)", defenderScore, attackerScore)
	}
}

func TestAddContributionClosedChallenge(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}
	if _, _, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, now.Add(73*time.Hour)); err != nil {
		t.Fatalf("SettleChallenge() error = %v", err)
	}

	err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 10, 0, now)
	if !errors.Is(err, storage.ErrChallengeClosed) {
		t.Fatalf("AddContribution() on settled challenge error = %v, want ErrChallengeClosed", err)
	}
	err = store.AddContribution(ctx, "missing", "ada", "guild-b", 10, 0, now)
	if !errors.Is(err, storage.ErrChallengeClosed) {
		t.Fatalf("AddContribution() on missing challenge error = %v, want ErrChallengeClosed", err)
	}
}

func TestAddContributionPastWindow(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 100, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 10, 0, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}

	// The deadline itself is already outside the window.
	err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 5, 0, challenge.EndsAt)
	if !errors.Is(err, storage.ErrChallengeClosed) {
		t.Fatalf("AddContribution() at deadline error = %v, want ErrChallengeClosed", err)
	}

	_, attackerScore, err := store.ChallengeScores(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ChallengeScores() error = %v", err)
	}
	if attackerScore != 10 {
		t.Fatalf("attackerScore = %d, want 10 with the late delta dropped", attackerScore)
	}
}

func TestRecordStakeMoveIdempotent(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	move := domain.StakeMove{
		MoveID:    domain.RaceRefundMoveID("hex-1", "guild-a", now),
		GuildID:   "guild-a",
		Amount:    100,
		Reason:    domain.MoveReasonRaceRefund,
		CreatedAt: now,
	}
	if err := store.RecordStakeMove(ctx, move); err != nil {
		t.Fatalf("RecordStakeMove() error = %v", err)
	}
	if err := store.RecordStakeMove(ctx, move); err != nil {
		t.Fatalf("RecordStakeMove() repeat error = %v", err)
	}

	moves, err := store.ListUnappliedMoves(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnappliedMoves() error = %v", err)
	}
	if len(moves) != 1 || moves[0].Amount != 100 || moves[0].Reason != domain.MoveReasonRaceRefund {
		t.Fatalf("moves = %+v, want the single journaled refund", moves)
	}
}

func TestSettleChallengeAttackerWins(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	if err := store.CreateControl(ctx, mustControl(t, "hex-1", "guild-a", 100, now.Add(-time.Hour))); err != nil {
		t.Fatalf("CreateControl() error = %v", err)
	}
	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 150, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 20, 0, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "bob", "guild-a", 5, 0, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}

	settledAt := now.Add(73 * time.Hour)
	settled, applied, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, settledAt)
	if err != nil {
		t.Fatalf("SettleChallenge() error = %v", err)
	}
	if !applied {
		t.Fatal("applied = false, want true")
	}
	if settled.WinnerID != "guild-b" || !settled.Resolved {
		t.Fatalf("settled = %+v, want guild-b resolved", settled)
	}

	control, err := store.GetControl(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetControl() error = %v", err)
	}
	if control.GuildID != "guild-b" || control.CurrentStake != 250 {
		t.Fatalf("control = %+v, want guild-b holding the 250 pot", control)
	}
	if !control.ControlEndsAt.Equal(settledAt.Add(168 * time.Hour)) {
		t.Fatalf("ControlEndsAt = %v, want fresh window from settlement", control.ControlEndsAt)
	}

	moves, err := store.ListMovesByChallenge(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ListMovesByChallenge() error = %v", err)
	}
	if len(moves) != 0 {
		t.Fatalf("moves = %+v, want none when the pot rolls into the control", moves)
	}

	// A second settle is a no-op returning the stored terminal state.
	again, applied, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, settledAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("SettleChallenge() repeat error = %v", err)
	}
	if applied {
		t.Fatal("repeat applied = true, want false")
	}
	if again.WinnerID != "guild-b" {
		t.Fatalf("repeat WinnerID = %q, want guild-b", again.WinnerID)
	}
}

func TestSettleChallengeDefenderHoldsOnTie(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	if err := store.CreateControl(ctx, mustControl(t, "hex-1", "guild-a", 100, now.Add(-time.Hour))); err != nil {
		t.Fatalf("CreateControl() error = %v", err)
	}
	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 150, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "ada", "guild-b", 10, 0, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}
	if err := store.AddContribution(ctx, "ch-1", "bob", "guild-a", 10, 0, now); err != nil {
		t.Fatalf("AddContribution() error = %v", err)
	}

	settledAt := now.Add(73 * time.Hour)
	settled, applied, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, settledAt)
	if err != nil {
		t.Fatalf("SettleChallenge() error = %v", err)
	}
	if !applied || settled.WinnerID != "guild-a" {
		t.Fatalf("settled = %+v applied = %v, want guild-a win", settled, applied)
	}

	control, err := store.GetControl(ctx, "hex-1")
	if err != nil {
		t.Fatalf("GetControl() error = %v", err)
	}
	if control.GuildID != "guild-a" || control.CurrentStake != 100 {
		t.Fatalf("control = %+v, want guild-a keeping its 100 stake", control)
	}

	moves, err := store.ListMovesByChallenge(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ListMovesByChallenge() error = %v", err)
	}
	if len(moves) != 1 {
		t.Fatalf("moves = %d, want the forfeit credit", len(moves))
	}
	forfeit := moves[0]
	if forfeit.GuildID != "guild-a" || forfeit.Amount != 150 || forfeit.Reason != domain.MoveReasonForfeit {
		t.Fatalf("forfeit move = %+v", forfeit)
	}

	claimed, err := store.MarkMoveApplied(ctx, forfeit.MoveID, settledAt)
	if err != nil {
		t.Fatalf("MarkMoveApplied() error = %v", err)
	}
	if !claimed {
		t.Fatal("MarkMoveApplied() = false, want true")
	}
	claimed, err = store.MarkMoveApplied(ctx, forfeit.MoveID, settledAt)
	if err != nil {
		t.Fatalf("MarkMoveApplied() repeat error = %v", err)
	}
	if claimed {
		t.Fatal("MarkMoveApplied() repeat = true, want false")
	}
	if _, err := store.MarkMoveApplied(ctx, "missing", settledAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("MarkMoveApplied(missing) error = %v, want ErrNotFound", err)
	}

	unapplied, err := store.ListUnappliedMoves(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnappliedMoves() error = %v", err)
	}
	if len(unapplied) != 0 {
		t.Fatalf("unapplied = %+v, want none", unapplied)
	}
}

func TestSettleUnclaimedContestRefundsAttacker(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	challenge := mustChallenge(t, "ch-1", "hex-1", "", "guild-b", 0, 150, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}

	// No contributions: zero attacker score ties the fixed zero defender
	// score, so the contest fails and the escrow goes back.
	settled, applied, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, now.Add(73*time.Hour))
	if err != nil {
		t.Fatalf("SettleChallenge() error = %v", err)
	}
	if !applied || settled.WinnerID != "" {
		t.Fatalf("settled = %+v applied = %v, want no winner", settled, applied)
	}

	if _, err := store.GetControl(ctx, "hex-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetControl() error = %v, want cell left unclaimed", err)
	}

	moves, err := store.ListMovesByChallenge(ctx, "ch-1")
	if err != nil {
		t.Fatalf("ListMovesByChallenge() error = %v", err)
	}
	if len(moves) != 1 {
		t.Fatalf("moves = %d, want the refund", len(moves))
	}
	if moves[0].GuildID != "guild-b" || moves[0].Amount != 150 || moves[0].Reason != domain.MoveReasonContestRefund {
		t.Fatalf("refund move = %+v", moves[0])
	}
}

func TestAudit(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow()

	if err := store.CreateControl(ctx, mustControl(t, "hex-1", "guild-a", 100, now)); err != nil {
		t.Fatalf("CreateControl() error = %v", err)
	}
	challenge := mustChallenge(t, "ch-1", "hex-1", "guild-a", "guild-b", 100, 150, now)
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge() error = %v", err)
	}

	report, err := store.Audit(ctx)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	want := storage.AuditReport{
		Controls:          1,
		ControlStake:      100,
		OpenChallenges:    1,
		OpenAttackerStake: 150,
	}
	if report != want {
		t.Fatalf("Audit() = %+v, want %+v", report, want)
	}

	// Settling moves the escrow into the journal without losing a coin.
	if _, _, err := store.SettleChallenge(ctx, "ch-1", 168*time.Hour, now.Add(73*time.Hour)); err != nil {
		t.Fatalf("SettleChallenge() error = %v", err)
	}
	report, err = store.Audit(ctx)
	if err != nil {
		t.Fatalf("Audit() after settle error = %v", err)
	}
	if report.ControlStake+report.OpenAttackerStake+report.UnappliedAmount != 250 {
		t.Fatalf("escrow total = %d, want 250 conserved (report %+v)",
			report.ControlStake+report.OpenAttackerStake+report.UnappliedAmount, report)
	}
}

func TestSettleChallengeMissing(t *testing.T) {
	store := openTempStore(t)

	_, _, err := store.SettleChallenge(context.Background(), "missing", 168*time.Hour, testNow())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SettleChallenge(missing) error = %v, want ErrNotFound", err)
	}
}
