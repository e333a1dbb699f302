// Package engine implements the territory challenge engine: claiming cells,
// opening challenges, recording contributions, and the read projections
// built over them. All money movement goes through the ledger adapter and
// every check-and-insert is backed by an atomic storage write, so concurrent
// callers resolve to exactly one success.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hexwave/resonance/internal/platform/errors"
	"github.com/hexwave/resonance/internal/platform/id"
	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/ledger"
	"github.com/hexwave/resonance/internal/services/territory/membership"
	"github.com/hexwave/resonance/internal/services/territory/registry"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

const tracerName = "resonance.territory.engine"

// Defaults for the tunable engine windows.
const (
	DefaultChallengeWindow     = 72 * time.Hour
	DefaultControlWindow       = 168 * time.Hour
	DefaultMinChallengeMembers = 3
)

// Config tunes the engine's windows and floors. Zero values fall back to the
// defaults.
type Config struct {
	// ChallengeWindow is how long a challenge stays open for contributions.
	ChallengeWindow time.Duration
	// ControlWindow is how long a control lasts before it lapses.
	ControlWindow time.Duration
	// MinChallengeMembers is the smallest active guild allowed to open a
	// challenge.
	MinChallengeMembers int
}

// Engine coordinates territory state changes across the registry, the
// store, the guild ledger, and the membership roster.
type Engine struct {
	registry *registry.Registry
	store    storage.Store
	ledger   ledger.Ledger
	roster   membership.Service
	tracer   trace.Tracer

	challengeWindow     time.Duration
	controlWindow       time.Duration
	minChallengeMembers int

	clock func() time.Time
	newID func() (string, error)
}

// New builds an engine. All collaborators are required.
func New(reg *registry.Registry, store storage.Store, vault ledger.Ledger, roster membership.Service, cfg Config) *Engine {
	if cfg.ChallengeWindow <= 0 {
		cfg.ChallengeWindow = DefaultChallengeWindow
	}
	if cfg.ControlWindow <= 0 {
		cfg.ControlWindow = DefaultControlWindow
	}
	if cfg.MinChallengeMembers <= 0 {
		cfg.MinChallengeMembers = DefaultMinChallengeMembers
	}
	return &Engine{
		registry:            reg,
		store:               store,
		ledger:              vault,
		roster:              roster,
		tracer:              otel.Tracer(tracerName),
		challengeWindow:     cfg.ChallengeWindow,
		controlWindow:       cfg.ControlWindow,
		minChallengeMembers: cfg.MinChallengeMembers,
		clock:               time.Now,
		newID:               id.NewID,
	}
}

// ControlWindow returns the configured control duration. The settlement
// resolver uses the same window for post-settlement controls.
func (e *Engine) ControlWindow() time.Duration {
	return e.controlWindow
}

// WithClock replaces the wall clock, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithIDGenerator replaces the challenge id generator, for tests.
func (e *Engine) WithIDGenerator(newID func() (string, error)) *Engine {
	e.newID = newID
	return e
}

// Claim stakes coins to take control of an unclaimed cell. The caller must
// be an officer of the guild and the stake must meet the cell's traffic
// floor. Under concurrent claims exactly one wins; the losers' debits are
// refunded.
func (e *Engine) Claim(ctx context.Context, guildID, username, hexID string, stake int64) (domain.Control, error) {
	ctx, span := e.tracer.Start(ctx, "territory.Claim", trace.WithAttributes(
		attribute.String("guild.id", guildID),
		attribute.String("cell.hex_id", hexID),
		attribute.Int64("stake.amount", stake),
	))
	defer span.End()

	cell, err := e.authorizeStake(ctx, guildID, username, hexID, stake)
	if err != nil {
		return domain.Control{}, err
	}
	now := e.clock().UTC()

	if _, err := e.store.GetOpenChallengeByHex(ctx, cell.HexID); err == nil {
		return domain.Control{}, errors.New(errors.CodeChallengeInProgress, "cell is contested")
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return domain.Control{}, fmt.Errorf("check open challenge: %w", err)
	}

	current, live, err := e.liveControl(ctx, cell.HexID, now)
	if err != nil {
		return domain.Control{}, err
	}
	if live {
		return domain.Control{}, errors.WithMetadata(errors.CodeAlreadyControlled, "cell is already controlled", map[string]string{
			"hex_id":   cell.HexID,
			"guild_id": current.GuildID,
		})
	}

	control, err := domain.NewControl(cell.HexID, guildID, stake, e.controlWindow, now)
	if err != nil {
		return domain.Control{}, errors.Wrap(errors.CodeUnknown, "invalid claim", err)
	}

	if err := e.debit(ctx, guildID, stake); err != nil {
		return domain.Control{}, err
	}
	if err := e.store.CreateControl(ctx, control); err != nil {
		if stderrors.Is(err, storage.ErrAlreadyExists) {
			e.refund(ctx, guildID, cell.HexID, stake)
			return domain.Control{}, errors.New(errors.CodeAlreadyControlled, "cell is already controlled")
		}
		e.refund(ctx, guildID, cell.HexID, stake)
		return domain.Control{}, fmt.Errorf("create control: %w", err)
	}
	return control, nil
}

// OpenChallenge escrows a stake and opens a time-boxed challenge against a
// cell. Against a controlled cell the incumbent becomes the defender with
// its current stake escrowed, and the attacker's stake must match or exceed
// it; against an unclaimed cell the defender side is empty and scores a
// fixed zero. A control that lapsed before the open is released with its
// stake journaled back, so the contest runs without a defender. One
// unresolved challenge per cell; under concurrent opens exactly one wins
// and the losers are refunded.
func (e *Engine) OpenChallenge(ctx context.Context, attackerGuildID, username, hexID string, stake int64) (domain.Challenge, error) {
	ctx, span := e.tracer.Start(ctx, "territory.OpenChallenge", trace.WithAttributes(
		attribute.String("guild.id", attackerGuildID),
		attribute.String("cell.hex_id", hexID),
		attribute.Int64("stake.amount", stake),
	))
	defer span.End()

	cell, err := e.authorizeStake(ctx, attackerGuildID, username, hexID, stake)
	if err != nil {
		return domain.Challenge{}, err
	}

	memberCount, err := e.roster.ActiveMemberCount(ctx, attackerGuildID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("count members: %w", err)
	}
	if memberCount < e.minChallengeMembers {
		return domain.Challenge{}, errors.WithMetadata(errors.CodeGuildTooSmall, "guild is too small to open a challenge", map[string]string{
			"members":  fmt.Sprintf("%d", memberCount),
			"required": fmt.Sprintf("%d", e.minChallengeMembers),
		})
	}

	now := e.clock().UTC()

	if _, err := e.store.GetOpenChallengeByHex(ctx, cell.HexID); err == nil {
		return domain.Challenge{}, errors.New(errors.CodeChallengeInProgress, "cell already has an open challenge")
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return domain.Challenge{}, fmt.Errorf("check open challenge: %w", err)
	}

	input := domain.NewChallengeInput{
		HexID:         cell.HexID,
		AttackerID:    attackerGuildID,
		AttackerStake: stake,
		Duration:      e.challengeWindow,
	}
	control, live, err := e.liveControl(ctx, cell.HexID, now)
	if err != nil {
		return domain.Challenge{}, err
	}
	if live {
		if control.GuildID == attackerGuildID {
			return domain.Challenge{}, errors.New(errors.CodeSelfChallenge, "a guild cannot challenge its own territory")
		}
		if stake < control.CurrentStake {
			return domain.Challenge{}, errors.WithMetadata(errors.CodeInsufficientStake, "stake must match the defender's stake", map[string]string{
				"minimum": fmt.Sprintf("%d", control.CurrentStake),
				"offered": fmt.Sprintf("%d", stake),
			})
		}
		input.DefenderID = control.GuildID
		input.DefenderStake = control.CurrentStake
	}

	challenge, err := domain.NewChallenge(input, now, e.newID)
	if err != nil {
		return domain.Challenge{}, errors.Wrap(errors.CodeUnknown, "invalid challenge", err)
	}

	if err := e.debit(ctx, attackerGuildID, stake); err != nil {
		return domain.Challenge{}, err
	}
	if err := e.store.CreateChallenge(ctx, challenge); err != nil {
		if stderrors.Is(err, storage.ErrAlreadyExists) {
			e.refund(ctx, attackerGuildID, cell.HexID, stake)
			return domain.Challenge{}, errors.New(errors.CodeChallengeInProgress, "cell already has an open challenge")
		}
		e.refund(ctx, attackerGuildID, cell.HexID, stake)
		return domain.Challenge{}, fmt.Errorf("create challenge: %w", err)
	}
	return challenge, nil
}

// RecordContribution adds a player's effort to their guild's side of an
// open challenge. Deltas are additive and a player's side locks to the
// guild of their first contribution. A challenge past its window rejects
// further effort even before the sweeper settles it.
func (e *Engine) RecordContribution(ctx context.Context, challengeID, username, guildID string, sharePointsDelta, tuneDelta int64) error {
	if username == "" {
		return errors.Wrap(errors.CodeUnknown, "username is required", domain.ErrEmptyUsername)
	}
	if err := domain.ValidateDeltas(sharePointsDelta, tuneDelta); err != nil {
		return errors.Wrap(errors.CodeUnknown, "invalid contribution", err)
	}

	challenge, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeChallengeNotFound, "challenge not found")
		}
		return fmt.Errorf("load challenge: %w", err)
	}
	if challenge.Resolved {
		return errors.New(errors.CodeChallengeClosed, "challenge is already settled")
	}
	now := e.clock().UTC()
	if challenge.Due(now) {
		return errors.New(errors.CodeChallengeClosed, "challenge window has ended")
	}
	if challenge.SideOf(guildID) == domain.SideNone {
		return errors.WithMetadata(errors.CodeContributionSideMismatch, "guild is not part of this challenge", map[string]string{
			"challenge_id": challenge.ID,
			"guild_id":     guildID,
		})
	}

	err = e.store.AddContribution(ctx, challenge.ID, username, guildID, sharePointsDelta, tuneDelta, now)
	switch {
	case stderrors.Is(err, storage.ErrChallengeClosed):
		return errors.New(errors.CodeChallengeClosed, "challenge is already settled")
	case stderrors.Is(err, storage.ErrSideMismatch):
		return errors.New(errors.CodeContributionSideMismatch, "player already contributed for another guild")
	case err != nil:
		return fmt.Errorf("record contribution: %w", err)
	}
	return nil
}

// CellState returns the tagged ownership view of one cell.
func (e *Engine) CellState(ctx context.Context, hexID string) (domain.CellState, error) {
	cell, err := e.registry.Get(ctx, hexID)
	if err != nil {
		return domain.CellState{}, cellLookupError(err)
	}

	state := domain.CellState{Kind: domain.CellUnclaimed}
	control, err := e.store.GetControl(ctx, cell.HexID)
	switch {
	case err == nil:
		state.Kind = domain.CellControlled
		state.Control = &control
	case !stderrors.Is(err, storage.ErrNotFound):
		return domain.CellState{}, fmt.Errorf("check control: %w", err)
	}

	challenge, err := e.store.GetOpenChallengeByHex(ctx, cell.HexID)
	switch {
	case err == nil:
		state.Kind = domain.CellContested
		state.Challenge = &challenge
	case !stderrors.Is(err, storage.ErrNotFound):
		return domain.CellState{}, fmt.Errorf("check open challenge: %w", err)
	}
	return state, nil
}

// GuildTerritories lists the cells a guild currently controls.
func (e *Engine) GuildTerritories(ctx context.Context, guildID string) ([]domain.Control, error) {
	return e.store.ListControlsByGuild(ctx, guildID)
}

// GuildChallenges lists the open challenges a guild fights in, on either
// side, nearest deadline first.
func (e *Engine) GuildChallenges(ctx context.Context, guildID string) ([]domain.Challenge, error) {
	return e.store.ListOpenChallengesByGuild(ctx, guildID)
}

// ChallengeDetail is the full view of one challenge: live side scores and
// per-player contributions.
type ChallengeDetail struct {
	Challenge     domain.Challenge
	DefenderScore int64
	AttackerScore int64
	Contributions []domain.Contribution
}

// ChallengeDetail returns the detail view for one challenge, resolved or
// open.
func (e *Engine) ChallengeDetail(ctx context.Context, challengeID string) (ChallengeDetail, error) {
	challenge, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return ChallengeDetail{}, errors.New(errors.CodeChallengeNotFound, "challenge not found")
		}
		return ChallengeDetail{}, fmt.Errorf("load challenge: %w", err)
	}
	defenderScore, attackerScore, err := e.store.ChallengeScores(ctx, challenge.ID)
	if err != nil {
		return ChallengeDetail{}, fmt.Errorf("load scores: %w", err)
	}
	contributions, err := e.store.ListContributions(ctx, challenge.ID)
	if err != nil {
		return ChallengeDetail{}, fmt.Errorf("load contributions: %w", err)
	}
	return ChallengeDetail{
		Challenge:     challenge,
		DefenderScore: defenderScore,
		AttackerScore: attackerScore,
		Contributions: contributions,
	}, nil
}

// authorizeStake runs the checks shared by Claim and OpenChallenge: officer
// authorization, cell existence, and the traffic-based stake floor.
func (e *Engine) authorizeStake(ctx context.Context, guildID, username, hexID string, stake int64) (domain.Cell, error) {
	officer, err := e.roster.IsOfficer(ctx, guildID, username)
	if err != nil {
		return domain.Cell{}, fmt.Errorf("check officer: %w", err)
	}
	if !officer {
		return domain.Cell{}, errors.New(errors.CodeUnauthorized, "only guild officers may stake territory")
	}

	cell, err := e.registry.Get(ctx, hexID)
	if err != nil {
		return domain.Cell{}, cellLookupError(err)
	}

	if minimum := cell.MinimumStake(); stake < minimum {
		return domain.Cell{}, errors.WithMetadata(errors.CodeInsufficientStake, "stake is below the cell's floor", map[string]string{
			"minimum": fmt.Sprintf("%d", minimum),
			"offered": fmt.Sprintf("%d", stake),
		})
	}
	return cell, nil
}

func (e *Engine) debit(ctx context.Context, guildID string, amount int64) error {
	err := e.ledger.Debit(ctx, guildID, amount)
	if stderrors.Is(err, ledger.ErrInsufficientFunds) {
		return errors.New(errors.CodeInsufficientFunds, "guild vault cannot cover the stake")
	}
	if err != nil {
		return fmt.Errorf("debit stake: %w", err)
	}
	return nil
}

// liveControl returns the cell's active control. A control whose window has
// passed before the sweeper reached it is released here, refunding the stale
// stake through the journal, and the cell reads as unclaimed.
func (e *Engine) liveControl(ctx context.Context, hexID string, now time.Time) (domain.Control, bool, error) {
	control, err := e.store.GetControl(ctx, hexID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return domain.Control{}, false, nil
	}
	if err != nil {
		return domain.Control{}, false, fmt.Errorf("check control: %w", err)
	}
	if !control.Lapsed(now) {
		return control, true, nil
	}

	refund := domain.StakeMove{
		MoveID:    domain.LapseMoveID(control.HexID, control.ControlEndsAt),
		GuildID:   control.GuildID,
		Amount:    control.CurrentStake,
		Reason:    domain.MoveReasonLapseRefund,
		CreatedAt: now,
	}
	if _, err := e.store.ReleaseControl(ctx, control.HexID, control.ControlEndsAt, refund); err != nil {
		return domain.Control{}, false, fmt.Errorf("release lapsed control: %w", err)
	}
	return domain.Control{}, false, nil
}

// refund compensates a debit whose follow-up write lost a race. The caller
// surfaces the conflict error, not a refund failure; a credit the vault
// rejects is journaled as an owed stake move so a later sweep pays it out.
func (e *Engine) refund(ctx context.Context, guildID, hexID string, amount int64) {
	if err := e.ledger.Credit(ctx, guildID, amount); err == nil {
		return
	}
	now := e.clock().UTC()
	move := domain.StakeMove{
		MoveID:    domain.RaceRefundMoveID(hexID, guildID, now),
		GuildID:   guildID,
		Amount:    amount,
		Reason:    domain.MoveReasonRaceRefund,
		CreatedAt: now,
	}
	if err := e.store.RecordStakeMove(ctx, move); err != nil {
		log.Printf("journal race refund for guild %s on %s (amount %d) failed: %v", guildID, hexID, amount, err)
	}
}

func cellLookupError(err error) error {
	if stderrors.Is(err, storage.ErrNotFound) || stderrors.Is(err, domain.ErrEmptyHexID) {
		return errors.New(errors.CodeCellNotFound, "cell is not in the registry")
	}
	return fmt.Errorf("load cell: %w", err)
}
