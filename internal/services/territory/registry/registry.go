// Package registry maintains the hex-cell catalog the territory engine
// resolves cells and stake floors against. The catalog and its traffic
// scores arrive out-of-band as YAML drops loaded by the maintenance tool.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

// Registry resolves hex cells and their stake requirements.
type Registry struct {
	cells storage.CellStore
	clock func() time.Time
}

// New builds a registry over the given cell store.
func New(cells storage.CellStore) *Registry {
	return &Registry{cells: cells, clock: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Get returns the cell for a hex id.
func (r *Registry) Get(ctx context.Context, hexID string) (domain.Cell, error) {
	hexID, err := domain.NormalizeHexID(hexID)
	if err != nil {
		return domain.Cell{}, err
	}
	return r.cells.GetCell(ctx, hexID)
}

// MinimumStake returns the stake floor for a cell's current traffic.
func (r *Registry) MinimumStake(ctx context.Context, hexID string) (int64, error) {
	cell, err := r.Get(ctx, hexID)
	if err != nil {
		return 0, err
	}
	return cell.MinimumStake(), nil
}

// List returns the full catalog.
func (r *Registry) List(ctx context.Context) ([]domain.Cell, error) {
	return r.cells.ListCells(ctx)
}

type catalogFile struct {
	Cells []struct {
		HexID        string  `yaml:"hex_id"`
		NodeCount    int     `yaml:"node_count"`
		TrafficScore float64 `yaml:"traffic_score"`
	} `yaml:"cells"`
}

// ImportCatalog upserts cells from a YAML catalog file and returns how many
// were written:
//
//	cells:
//	  - hex_id: 8a2a1072b59ffff
//	    node_count: 12
//	    traffic_score: 140
func (r *Registry) ImportCatalog(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse catalog file: %w", err)
	}

	now := r.clock().UTC()
	imported := 0
	for _, entry := range file.Cells {
		hexID, err := domain.NormalizeHexID(entry.HexID)
		if err != nil {
			return imported, fmt.Errorf("catalog entry %d: %w", imported, err)
		}
		cell := domain.Cell{
			HexID:        hexID,
			NodeCount:    entry.NodeCount,
			TrafficScore: entry.TrafficScore,
			UpdatedAt:    now,
		}
		if err := r.cells.UpsertCell(ctx, cell); err != nil {
			return imported, fmt.Errorf("import cell %s: %w", hexID, err)
		}
		imported++
	}
	return imported, nil
}

type trafficFile struct {
	Traffic []struct {
		HexID string  `yaml:"hex_id"`
		Score float64 `yaml:"score"`
	} `yaml:"traffic"`
}

// RefreshTraffic applies a YAML traffic drop to known cells. Scores for hex
// ids missing from the catalog are skipped, not imported; the skipped ids
// are returned for the operator to inspect.
func (r *Registry) RefreshTraffic(ctx context.Context, path string) (int, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("read traffic file: %w", err)
	}
	var file trafficFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, nil, fmt.Errorf("parse traffic file: %w", err)
	}

	now := r.clock().UTC()
	updated := 0
	var skipped []string
	for _, entry := range file.Traffic {
		hexID, err := domain.NormalizeHexID(entry.HexID)
		if err != nil {
			return updated, skipped, fmt.Errorf("traffic entry for %q: %w", entry.HexID, err)
		}
		err = r.cells.UpdateTrafficScore(ctx, hexID, entry.Score, now)
		if errors.Is(err, storage.ErrNotFound) {
			skipped = append(skipped, hexID)
			continue
		}
		if err != nil {
			return updated, skipped, fmt.Errorf("refresh cell %s: %w", hexID, err)
		}
		updated++
	}
	return updated, skipped, nil
}
