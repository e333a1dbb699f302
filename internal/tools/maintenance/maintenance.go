// Package maintenance implements the territory operator tool: manual
// settlement, one-shot sweeps, cell catalog imports, traffic refreshes, the
// stake conservation audit, and cell status lookups. Every command works on
// the same storage the runtime uses and is safe to run while the service is
// live.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hexwave/resonance/internal/platform/timeouts"
	"github.com/hexwave/resonance/internal/services/territory/app"
	"github.com/hexwave/resonance/internal/services/territory/domain"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath      string        `env:"RESONANCE_TERRITORY_DB_PATH"`
	VaultDBPath string        `env:"RESONANCE_TERRITORY_VAULT_DB_PATH"`
	RosterPath  string        `env:"RESONANCE_TERRITORY_ROSTER_PATH"`
	Timeout     time.Duration `env:"RESONANCE_MAINTENANCE_TIMEOUT" envDefault:"10m"`

	SettleChallengeID  string
	SweepOnce          bool
	ImportCellsPath    string
	RefreshTrafficPath string
	Audit              bool
	StatusHexID        string
	JSONOutput         bool
}

type envConfig struct {
	DBPath      string        `env:"RESONANCE_TERRITORY_DB_PATH"`
	VaultDBPath string        `env:"RESONANCE_TERRITORY_VAULT_DB_PATH"`
	RosterPath  string        `env:"RESONANCE_TERRITORY_ROSTER_PATH"`
	Timeout     time.Duration `env:"RESONANCE_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:      envCfg.DBPath,
		VaultDBPath: envCfg.VaultDBPath,
		RosterPath:  envCfg.RosterPath,
		Timeout:     envCfg.Timeout,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "territory.db")
	}
	if cfg.VaultDBPath == "" {
		cfg.VaultDBPath = filepath.Join("data", "vault.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to territory sqlite database (default: RESONANCE_TERRITORY_DB_PATH or data/territory.db)")
	fs.StringVar(&cfg.VaultDBPath, "vault-db-path", cfg.VaultDBPath, "path to vault sqlite database (default: RESONANCE_TERRITORY_VAULT_DB_PATH or data/vault.db)")
	fs.StringVar(&cfg.RosterPath, "roster-path", cfg.RosterPath, "static guild roster YAML path")
	fs.StringVar(&cfg.SettleChallengeID, "settle", "", "settle one due challenge by id")
	fs.BoolVar(&cfg.SweepOnce, "sweep-once", false, "run one full sweep pass and exit")
	fs.StringVar(&cfg.ImportCellsPath, "import-cells", "", "import a YAML cell catalog file")
	fs.StringVar(&cfg.RefreshTrafficPath, "refresh-traffic", "", "apply a YAML traffic score drop")
	fs.BoolVar(&cfg.Audit, "audit", false, "report where every escrowed coin sits")
	fs.StringVar(&cfg.StatusHexID, "status", "", "print the ownership state of one cell")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	commands := 0
	if cfg.SettleChallengeID != "" {
		commands++
	}
	if cfg.SweepOnce {
		commands++
	}
	if cfg.ImportCellsPath != "" {
		commands++
	}
	if cfg.RefreshTrafficPath != "" {
		commands++
	}
	if cfg.Audit {
		commands++
	}
	if cfg.StatusHexID != "" {
		commands++
	}
	if commands == 0 {
		return errors.New("no command: use -settle, -sweep-once, -import-cells, -refresh-traffic, -audit, or -status")
	}
	if commands > 1 {
		return errors.New("commands are mutually exclusive")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.Maintenance
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	runtime, err := app.New(app.RuntimeConfig{
		DBPath:      cfg.DBPath,
		VaultDBPath: cfg.VaultDBPath,
		RosterPath:  cfg.RosterPath,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "close storage: %v\n", closeErr)
		}
	}()

	switch {
	case cfg.SettleChallengeID != "":
		return runSettle(ctx, runtime, cfg, out)
	case cfg.SweepOnce:
		return runSweepOnce(ctx, runtime, cfg, out)
	case cfg.ImportCellsPath != "":
		return runImportCells(ctx, runtime, cfg, out, errOut)
	case cfg.RefreshTrafficPath != "":
		return runRefreshTraffic(ctx, runtime, cfg, out, errOut)
	case cfg.Audit:
		return runAudit(ctx, runtime, cfg, out)
	default:
		return runStatus(ctx, runtime, cfg, out)
	}
}

func runSettle(ctx context.Context, runtime *app.Runtime, cfg Config, out io.Writer) error {
	challenge, err := runtime.Resolver.Settle(ctx, cfg.SettleChallengeID)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, map[string]any{
			"challenge_id": challenge.ID,
			"hex_id":       challenge.HexID,
			"winner_id":    challenge.WinnerID,
			"settled_at":   challenge.SettledAt.Format(time.RFC3339),
		})
	}
	if challenge.WinnerID == "" {
		fmt.Fprintf(out, "challenge %s settled: contest failed, %s stays unclaimed\n", challenge.ID, challenge.HexID)
		return nil
	}
	fmt.Fprintf(out, "challenge %s settled: %s holds %s\n", challenge.ID, challenge.WinnerID, challenge.HexID)
	return nil
}

func runSweepOnce(ctx context.Context, runtime *app.Runtime, cfg Config, out io.Writer) error {
	report, err := runtime.Sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "sweep: settled=%d failures=%d released=%d moves=%d\n",
		report.Settled, report.SettleFailures, report.ControlsReleased, report.MovesApplied)
	return nil
}

func runImportCells(ctx context.Context, runtime *app.Runtime, cfg Config, out, errOut io.Writer) error {
	imported, err := runtime.Registry.ImportCatalog(ctx, cfg.ImportCellsPath)
	if err != nil {
		fmt.Fprintf(errOut, "imported %d cells before failure\n", imported)
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, map[string]int{"imported": imported})
	}
	fmt.Fprintf(out, "imported %d cells\n", imported)
	return nil
}

func runRefreshTraffic(ctx context.Context, runtime *app.Runtime, cfg Config, out, errOut io.Writer) error {
	updated, skipped, err := runtime.Registry.RefreshTraffic(ctx, cfg.RefreshTrafficPath)
	if err != nil {
		return err
	}
	for _, hexID := range skipped {
		fmt.Fprintf(errOut, "skipped unknown cell %s\n", hexID)
	}
	if cfg.JSONOutput {
		return writeJSON(out, map[string]any{"updated": updated, "skipped": skipped})
	}
	fmt.Fprintf(out, "refreshed traffic for %d cells (%d skipped)\n", updated, len(skipped))
	return nil
}

func runAudit(ctx context.Context, runtime *app.Runtime, cfg Config, out io.Writer) error {
	report, err := runtime.Store().Audit(ctx)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "controls: %d holding %d\n", report.Controls, report.ControlStake)
	fmt.Fprintf(out, "open challenges: %d escrowing %d\n", report.OpenChallenges, report.OpenAttackerStake)
	fmt.Fprintf(out, "unapplied moves: %d owing %d\n", report.UnappliedMoves, report.UnappliedAmount)
	fmt.Fprintf(out, "applied moves: %d paid %d\n", report.AppliedMoves, report.AppliedAmount)
	fmt.Fprintf(out, "escrow outstanding: %d\n", report.ControlStake+report.OpenAttackerStake+report.UnappliedAmount)
	return nil
}

func runStatus(ctx context.Context, runtime *app.Runtime, cfg Config, out io.Writer) error {
	state, err := runtime.Engine.CellState(ctx, cfg.StatusHexID)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		payload := map[string]any{"hex_id": cfg.StatusHexID, "state": state.Kind.String()}
		if state.Control != nil {
			payload["guild_id"] = state.Control.GuildID
			payload["stake"] = state.Control.CurrentStake
			payload["control_ends_at"] = state.Control.ControlEndsAt.Format(time.RFC3339)
		}
		if state.Challenge != nil {
			payload["challenge_id"] = state.Challenge.ID
			payload["attacker_id"] = state.Challenge.AttackerID
			payload["challenge_ends_at"] = state.Challenge.EndsAt.Format(time.RFC3339)
		}
		return writeJSON(out, payload)
	}

	switch state.Kind {
	case domain.CellControlled:
		fmt.Fprintf(out, "%s: controlled by %s (stake %d, ends %s)\n",
			cfg.StatusHexID, state.Control.GuildID, state.Control.CurrentStake,
			state.Control.ControlEndsAt.Format(time.RFC3339))
	case domain.CellContested:
		defender := "unclaimed"
		if state.Control != nil {
			defender = state.Control.GuildID
		}
		fmt.Fprintf(out, "%s: contested, %s vs %s (challenge %s ends %s)\n",
			cfg.StatusHexID, defender, state.Challenge.AttackerID, state.Challenge.ID,
			state.Challenge.EndsAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(out, "%s: unclaimed\n", cfg.StatusHexID)
	}
	return nil
}

func writeJSON(out io.Writer, payload any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
