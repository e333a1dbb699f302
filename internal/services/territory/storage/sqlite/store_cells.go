package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hexwave/resonance/internal/services/territory/domain"
	"github.com/hexwave/resonance/internal/services/territory/storage"
)

// UpsertCell inserts or replaces one registry cell.
func (s *Store) UpsertCell(ctx context.Context, cell domain.Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	hexID, err := domain.NormalizeHexID(cell.HexID)
	if err != nil {
		return err
	}
	updatedAt := cell.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO cells (hex_id, traffic_score, node_count, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(hex_id) DO UPDATE SET
	traffic_score = excluded.traffic_score,
	node_count = excluded.node_count,
	updated_at = excluded.updated_at
`,
		hexID,
		cell.TrafficScore,
		cell.NodeCount,
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert cell: %w", err)
	}
	return nil
}

// GetCell returns one registry cell by hex id.
func (s *Store) GetCell(ctx context.Context, hexID string) (domain.Cell, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cell{}, err
	}
	if err := s.ready(); err != nil {
		return domain.Cell{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT hex_id, traffic_score, node_count, updated_at
FROM cells
WHERE hex_id = ?
`, strings.TrimSpace(hexID))
	return scanCell(row)
}

// ListCells returns every registry cell ordered by hex id.
func (s *Store) ListCells(ctx context.Context) ([]domain.Cell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT hex_id, traffic_score, node_count, updated_at
FROM cells
ORDER BY hex_id
`)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var cells []domain.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return cells, nil
}

// UpdateTrafficScore applies one out-of-band traffic refresh.
func (s *Store) UpdateTrafficScore(ctx context.Context, hexID string, trafficScore float64, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE cells SET traffic_score = ?, updated_at = ? WHERE hex_id = ?
`, trafficScore, toMillis(now), strings.TrimSpace(hexID))
	if err != nil {
		return fmt.Errorf("update traffic score: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update traffic score rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCell(row rowScanner) (domain.Cell, error) {
	var cell domain.Cell
	var updatedAt int64
	if err := row.Scan(&cell.HexID, &cell.TrafficScore, &cell.NodeCount, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Cell{}, storage.ErrNotFound
		}
		return domain.Cell{}, fmt.Errorf("scan cell: %w", err)
	}
	cell.UpdatedAt = fromMillis(updatedAt)
	return cell, nil
}
