// Package territory parses territory command flags and launches the
// territory runtime.
package territory

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/hexwave/resonance/internal/platform/cmd"
	territoryapp "github.com/hexwave/resonance/internal/services/territory/app"
)

// Config holds territory command configuration.
type Config struct {
	Port        int    `env:"RESONANCE_TERRITORY_PORT" envDefault:"8094"`
	DBPath      string `env:"RESONANCE_TERRITORY_DB_PATH" envDefault:"data/territory.db"`
	VaultDBPath string `env:"RESONANCE_TERRITORY_VAULT_DB_PATH" envDefault:"data/vault.db"`
	RosterPath  string `env:"RESONANCE_TERRITORY_ROSTER_PATH"`

	ChallengeWindow     time.Duration `env:"RESONANCE_TERRITORY_CHALLENGE_WINDOW" envDefault:"72h"`
	ControlWindow       time.Duration `env:"RESONANCE_TERRITORY_CONTROL_WINDOW" envDefault:"168h"`
	MinChallengeMembers int           `env:"RESONANCE_TERRITORY_MIN_CHALLENGE_MEMBERS" envDefault:"3"`

	SweepInterval    time.Duration `env:"RESONANCE_TERRITORY_SWEEP_INTERVAL" envDefault:"2m"`
	SweepBatchSize   int           `env:"RESONANCE_TERRITORY_SWEEP_BATCH_SIZE" envDefault:"100"`
	SweepParallelism int           `env:"RESONANCE_TERRITORY_SWEEP_PARALLELISM" envDefault:"4"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The territory health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The territory SQLite database path")
	fs.StringVar(&cfg.VaultDBPath, "vault-db-path", cfg.VaultDBPath, "The guild vault SQLite database path")
	fs.StringVar(&cfg.RosterPath, "roster-path", cfg.RosterPath, "Static guild roster YAML path")
	fs.DurationVar(&cfg.ChallengeWindow, "challenge-window", cfg.ChallengeWindow, "How long a challenge stays open")
	fs.DurationVar(&cfg.ControlWindow, "control-window", cfg.ControlWindow, "How long a control lasts before lapsing")
	fs.IntVar(&cfg.MinChallengeMembers, "min-challenge-members", cfg.MinChallengeMembers, "Smallest guild allowed to open a challenge")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Pause between sweeper passes")
	fs.IntVar(&cfg.SweepBatchSize, "sweep-batch-size", cfg.SweepBatchSize, "Batch cap per sweeper pass")
	fs.IntVar(&cfg.SweepParallelism, "sweep-parallelism", cfg.SweepParallelism, "Concurrent settlements per sweeper pass")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the territory runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTerritory, func(ctx context.Context) error {
		return territoryapp.Run(ctx, territoryapp.RuntimeConfig{
			Port:                cfg.Port,
			DBPath:              cfg.DBPath,
			VaultDBPath:         cfg.VaultDBPath,
			RosterPath:          cfg.RosterPath,
			ChallengeWindow:     cfg.ChallengeWindow,
			ControlWindow:       cfg.ControlWindow,
			MinChallengeMembers: cfg.MinChallengeMembers,
			SweepInterval:       cfg.SweepInterval,
			SweepBatchSize:      cfg.SweepBatchSize,
			SweepParallelism:    cfg.SweepParallelism,
		})
	})
}
