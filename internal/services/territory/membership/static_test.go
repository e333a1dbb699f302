package membership

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticRoster(t *testing.T) {
	roster := NewStatic(map[string]Guild{
		"ember-court": {Officers: []string{"ada", "grace"}, Members: 14},
	})
	ctx := context.Background()

	officer, err := roster.IsOfficer(ctx, "ember-court", "ada")
	if err != nil {
		t.Fatalf("IsOfficer() error = %v", err)
	}
	if !officer {
		t.Fatal("IsOfficer(ada) = false, want true")
	}

	officer, err = roster.IsOfficer(ctx, "ember-court", "mallory")
	if err != nil {
		t.Fatalf("IsOfficer() error = %v", err)
	}
	if officer {
		t.Fatal("IsOfficer(mallory) = true, want false")
	}

	officer, err = roster.IsOfficer(ctx, "unknown-guild", "ada")
	if err != nil {
		t.Fatalf("IsOfficer() error = %v", err)
	}
	if officer {
		t.Fatal("IsOfficer() for unknown guild = true, want false")
	}

	count, err := roster.ActiveMemberCount(ctx, "ember-court")
	if err != nil {
		t.Fatalf("ActiveMemberCount() error = %v", err)
	}
	if count != 14 {
		t.Fatalf("ActiveMemberCount() = %d, want 14", count)
	}
	count, err = roster.ActiveMemberCount(ctx, "unknown-guild")
	if err != nil {
		t.Fatalf("ActiveMemberCount() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("ActiveMemberCount() for unknown guild = %d, want 0", count)
	}
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	contents := `guilds:
  ember-court:
    officers: [ada]
    members: 5
  night-chorus:
    officers: [bob, eve]
    members: 3
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	roster, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic() error = %v", err)
	}

	officer, err := roster.IsOfficer(context.Background(), "night-chorus", "eve")
	if err != nil {
		t.Fatalf("IsOfficer() error = %v", err)
	}
	if !officer {
		t.Fatal("IsOfficer(eve) = false, want true")
	}
	count, err := roster.ActiveMemberCount(context.Background(), "ember-court")
	if err != nil {
		t.Fatalf("ActiveMemberCount() error = %v", err)
	}
	if count != 5 {
		t.Fatalf("ActiveMemberCount() = %d, want 5", count)
	}
}

func TestLoadStaticMissingFile(t *testing.T) {
	if _, err := LoadStatic(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadStatic() error = nil, want read failure")
	}
}
