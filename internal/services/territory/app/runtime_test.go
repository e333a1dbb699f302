package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hexwave/resonance/internal/services/territory/domain"
)

func TestNewWiresRuntime(t *testing.T) {
	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.yaml")
	roster := `guilds:
  ember-court:
    officers: [ada]
    members: 10
`
	if err := os.WriteFile(rosterPath, []byte(roster), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	catalogPath := filepath.Join(dir, "catalog.yaml")
	catalog := `cells:
  - hex_id: hex-1
    node_count: 4
`
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	runtime, err := New(RuntimeConfig{
		DBPath:      filepath.Join(dir, "territory.db"),
		VaultDBPath: filepath.Join(dir, "vault.db"),
		RosterPath:  rosterPath,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := runtime.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	ctx := context.Background()
	if _, err := runtime.Registry.ImportCatalog(ctx, catalogPath); err != nil {
		t.Fatalf("ImportCatalog() error = %v", err)
	}
	if err := runtime.Ledger.Credit(ctx, "ember-court", 500); err != nil {
		t.Fatalf("Credit() error = %v", err)
	}

	control, err := runtime.Engine.Claim(ctx, "ember-court", "ada", "hex-1", 100)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if control.GuildID != "ember-court" {
		t.Fatalf("control = %+v", control)
	}

	state, err := runtime.Engine.CellState(ctx, "hex-1")
	if err != nil {
		t.Fatalf("CellState() error = %v", err)
	}
	if state.Kind != domain.CellControlled {
		t.Fatalf("state = %v, want controlled", state.Kind)
	}

	if _, err := runtime.Sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
}

func TestNewRejectsMissingRoster(t *testing.T) {
	dir := t.TempDir()
	_, err := New(RuntimeConfig{
		DBPath:      filepath.Join(dir, "territory.db"),
		VaultDBPath: filepath.Join(dir, "vault.db"),
		RosterPath:  filepath.Join(dir, "absent.yaml"),
	})
	if err == nil {
		t.Fatal("New() error = nil, want roster load failure")
	}
}
