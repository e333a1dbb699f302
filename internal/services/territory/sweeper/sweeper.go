// Package sweeper runs the background loop that keeps territory state
// converging: due challenges get settled, lapsed unchallenged controls get
// released with their stake refunded, and any stake moves left unapplied by
// an interrupted run get paid out. Every step is idempotent, so overlapping
// sweeps and manual operator triggers are harmless.
package sweeper

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hexwave/resonance/internal/platform/timeouts"
	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/settlement"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

const tracerName = "resonance.territory.sweeper"

// Defaults for the sweeper loop.
const (
	DefaultInterval    = 2 * time.Minute
	DefaultBatchSize   = 100
	DefaultParallelism = 4
)

// Config tunes the sweep loop. Zero values fall back to the defaults.
type Config struct {
	// Interval is the pause between sweeps.
	Interval time.Duration
	// BatchSize caps how many due challenges, lapsed controls, and pending
	// moves one sweep picks up.
	BatchSize int
	// Parallelism bounds concurrent settlements within one sweep.
	Parallelism int
}

// Report summarizes one sweep.
type Report struct {
	Settled          int
	SettleFailures   int
	ControlsReleased int
	MovesApplied     int
}

// Sweeper is the territory background worker.
type Sweeper struct {
	store    storage.Store
	resolver *settlement.Resolver
	tracer   trace.Tracer

	interval    time.Duration
	batchSize   int
	parallelism int

	clock func() time.Time
}

// New builds a sweeper over the store and resolver.
func New(store storage.Store, resolver *settlement.Resolver, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Sweeper{
		store:       store,
		resolver:    resolver,
		tracer:      otel.Tracer(tracerName),
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		clock:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		sweepCtx, cancel := context.WithTimeout(ctx, timeouts.Sweep)
		report, err := s.SweepOnce(sweepCtx)
		cancel()
		if err != nil {
			log.Printf("sweep failed: %v", err)
		} else if report.Settled+report.SettleFailures+report.ControlsReleased+report.MovesApplied > 0 {
			log.Printf("sweep: settled=%d failures=%d released=%d moves=%d",
				report.Settled, report.SettleFailures, report.ControlsReleased, report.MovesApplied)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one full pass: settlements, lapse releases, pending
// payouts. Individual settlement failures are counted, not fatal; the rest
// of the batch still converges.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "territory.Sweep")
	defer span.End()

	var report Report
	now := s.clock().UTC()

	due, err := s.store.ListDueChallenges(ctx, now, s.batchSize)
	if err != nil {
		return report, err
	}
	var settled, failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallelism)
	for _, challenge := range due {
		group.Go(func() error {
			settleCtx, cancel := context.WithTimeout(groupCtx, timeouts.Settlement)
			defer cancel()
			if _, err := s.resolver.Settle(settleCtx, challenge.ID); err != nil {
				log.Printf("settle %s failed: %v", challenge.ID, err)
				failed.Add(1)
				return nil
			}
			settled.Add(1)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}
	report.Settled = int(settled.Load())
	report.SettleFailures = int(failed.Load())

	lapsed, err := s.store.ListLapsedControls(ctx, now, s.batchSize)
	if err != nil {
		return report, err
	}
	for _, control := range lapsed {
		refund := domain.StakeMove{
			MoveID:    domain.LapseMoveID(control.HexID, control.ControlEndsAt),
			GuildID:   control.GuildID,
			Amount:    control.CurrentStake,
			Reason:    domain.MoveReasonLapseRefund,
			CreatedAt: now,
		}
		released, err := s.store.ReleaseControl(ctx, control.HexID, control.ControlEndsAt, refund)
		if err != nil {
			return report, err
		}
		if released {
			report.ControlsReleased++
		}
	}

	applied, err := s.resolver.ApplyPending(ctx, s.batchSize)
	if err != nil {
		return report, err
	}
	report.MovesApplied = applied

	span.SetAttributes(
		attribute.Int("sweep.settled", report.Settled),
		attribute.Int("sweep.settle_failures", report.SettleFailures),
		attribute.Int("sweep.controls_released", report.ControlsReleased),
		attribute.Int("sweep.moves_applied", report.MovesApplied),
	)
	return report, nil
}
