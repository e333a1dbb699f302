// Package settlement drives the terminal step of a challenge: the store
// resolves it in one transaction, then the journaled stake moves are paid
// out to guild vaults. Every step is idempotent, so the resolver can be
// invoked by the sweeper and by an operator at the same time.
package settlement

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
	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/ledger"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

const tracerName = "resonance.territory.settlement"

// Resolver settles challenges and pays out journaled stake moves.
type Resolver struct {
	store         storage.Store
	ledger        ledger.Ledger
	controlWindow time.Duration
	tracer        trace.Tracer
	clock         func() time.Time
}

// New builds a resolver. controlWindow is the duration of the fresh control
// installed for the winner.
func New(store storage.Store, vault ledger.Ledger, controlWindow time.Duration) *Resolver {
	return &Resolver{
		store:         store,
		ledger:        vault,
		controlWindow: controlWindow,
		tracer:        otel.Tracer(tracerName),
		clock:         time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// Settle resolves one challenge and applies its journaled payouts. An
// already-resolved challenge short-circuits to the stored result, so racing
// a sweep is harmless.
func (r *Resolver) Settle(ctx context.Context, challengeID string) (domain.Challenge, error) {
	ctx, span := r.tracer.Start(ctx, "territory.Settle", trace.WithAttributes(
		attribute.String("challenge.id", challengeID),
	))
	defer span.End()

	now := r.clock().UTC()
	current, err := r.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Challenge{}, errors.New(errors.CodeChallengeNotFound, "challenge not found")
		}
		return domain.Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if !current.Resolved && !current.Due(now) {
		return domain.Challenge{}, errors.WithMetadata(errors.CodeChallengeInProgress, "challenge window is still open", map[string]string{
			"ends_at": current.EndsAt.Format(time.RFC3339),
		})
	}

	challenge, applied, err := r.store.SettleChallenge(ctx, challengeID, r.controlWindow, now)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return domain.Challenge{}, errors.New(errors.CodeChallengeNotFound, "challenge not found")
		}
		return domain.Challenge{}, fmt.Errorf("settle challenge: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("settlement.applied", applied),
		attribute.String("settlement.winner", challenge.WinnerID),
	)

	moves, err := r.store.ListMovesByChallenge(ctx, challenge.ID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("list settlement moves: %w", err)
	}
	for _, move := range moves {
		if move.Applied {
			continue
		}
		if err := r.applyMove(ctx, move); err != nil {
			return domain.Challenge{}, err
		}
	}
	return challenge, nil
}

// ApplyPending pays out journaled moves left behind by interrupted
// settlements and sweeps. Returns how many moves this call applied.
func (r *Resolver) ApplyPending(ctx context.Context, limit int) (int, error) {
	moves, err := r.store.ListUnappliedMoves(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unapplied moves: %w", err)
	}
	applied := 0
	for _, move := range moves {
		if err := r.applyMove(ctx, move); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// applyMove claims the move, then credits the vault. The claim is a
// conditional update, so of any number of concurrent appliers exactly one
// performs the credit.
func (r *Resolver) applyMove(ctx context.Context, move domain.StakeMove) error {
	claimed, err := r.store.MarkMoveApplied(ctx, move.MoveID, r.clock().UTC())
	if err != nil {
		return fmt.Errorf("claim move %s: %w", move.MoveID, err)
	}
	if !claimed {
		return nil
	}
	if err := r.ledger.Credit(ctx, move.GuildID, move.Amount); err != nil {
		log.Printf("credit for move %s (guild %s, amount %d) failed: %v", move.MoveID, move.GuildID, move.Amount, err)
		return fmt.Errorf("credit move %s: %w", move.MoveID, err)
	}
	return nil
}
