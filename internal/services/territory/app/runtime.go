// Package app wires the territory runtime: durable stores, the challenge
// engine, the settlement resolver, the expiry sweeper, and a gRPC health
// endpoint. The engine is exposed in-process; game transports embed the
// runtime rather than dialing it.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hexwave/resonance/internal/platform/timeouts"
	"github.com/hexwave/resonance/internal/services/territory/engine"
	"github.com/hexwave/resonance/internal/services/territory/ledger"
	ledgersqlite "github.com/hexwave/resonance/internal/services/territory/ledger/sqlite"
	"github.com/hexwave/resonance/internal/services/territory/membership"
	"github.com/hexwave/resonance/internal/services/territory/registry"
	"github.com/hexwave/resonance/internal/services/territory/settlement"
	"github.com/hexwave/resonance/internal/services/territory/storage"
	territorysqlite "github.com/hexwave/resonance/internal/services/territory/storage/sqlite"
	"github.com/hexwave/resonance/internal/services/territory/sweeper"
)

// RuntimeConfig controls territory startup, storage paths, and loop
// behavior.
type RuntimeConfig struct {
	Port        int
	DBPath      string
	VaultDBPath string
	RosterPath  string

	ChallengeWindow     time.Duration
	ControlWindow       time.Duration
	MinChallengeMembers int

	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepParallelism int
}

const (
	defaultTerritoryPort = 8094
	defaultTerritoryDB   = "data/territory.db"
	defaultVaultDB       = "data/vault.db"
)

// Runtime holds the wired territory service.
type Runtime struct {
	Engine   *engine.Engine
	Registry *registry.Registry
	Resolver *settlement.Resolver
	Sweeper  *sweeper.Sweeper
	Ledger   ledger.Ledger

	store *territorysqlite.Store
	vault *ledgersqlite.Store
}

// New opens storage and wires the territory service components.
func New(cfg RuntimeConfig) (*Runtime, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultTerritoryDB
	}
	if strings.TrimSpace(cfg.VaultDBPath) == "" {
		cfg.VaultDBPath = defaultVaultDB
	}
	for _, path := range []string{cfg.DBPath, cfg.VaultDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
	}

	store, err := territorysqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open territory sqlite store: %w", err)
	}
	vault, err := ledgersqlite.Open(cfg.VaultDBPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open vault sqlite store: %w", err)
	}

	var roster membership.Service
	if strings.TrimSpace(cfg.RosterPath) != "" {
		static, err := membership.LoadStatic(cfg.RosterPath)
		if err != nil {
			_ = vault.Close()
			_ = store.Close()
			return nil, fmt.Errorf("load guild roster: %w", err)
		}
		roster = static
	} else {
		roster = membership.NewStatic(nil)
	}

	reg := registry.New(store)
	eng := engine.New(reg, store, vault, roster, engine.Config{
		ChallengeWindow:     cfg.ChallengeWindow,
		ControlWindow:       cfg.ControlWindow,
		MinChallengeMembers: cfg.MinChallengeMembers,
	})
	resolver := settlement.New(store, vault, eng.ControlWindow())
	sweep := sweeper.New(store, resolver, sweeper.Config{
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatchSize,
		Parallelism: cfg.SweepParallelism,
	})

	return &Runtime{
		Engine:   eng,
		Registry: reg,
		Resolver: resolver,
		Sweeper:  sweep,
		Ledger:   vault,
		store:    store,
		vault:    vault,
	}, nil
}

// Store exposes the territory store for operator tooling.
func (r *Runtime) Store() storage.Store {
	return r.store
}

// Close releases the runtime's storage.
func (r *Runtime) Close() error {
	var firstErr error
	if err := r.vault.Close(); err != nil {
		firstErr = err
	}
	if err := r.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Run starts the territory runtime: a gRPC health endpoint and the sweeper
// loop. It blocks until ctx is canceled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultTerritoryPort
	}

	runtime, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			log.Printf("close territory storage: %v", closeErr)
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on territory port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("territory.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeouts.Shutdown):
			grpcServer.Stop()
		}
		<-serveErr
	}()

	log.Printf("territory server listening at %v", listener.Addr())
	return runtime.Sweeper.Run(ctx)
}
