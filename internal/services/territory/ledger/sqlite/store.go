// Package sqlite provides the default SQLite-backed guild vault ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/hexwave/resonance/internal/platform/storage/sqlitemigrate"
	"github.com/hexwave/resonance/internal/services/territory/ledger"
	"github.com/hexwave/resonance/internal/services/territory/ledger/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed ledger.Ledger.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens a vault SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("vault path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vault db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping vault db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run vault migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithClock replaces the wall clock, for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Debit withdraws from a vault. The conditional update makes the balance
// check and the withdrawal one atomic write, so concurrent debits cannot
// overdraw.
func (s *Store) Debit(ctx context.Context, guildID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE vaults SET balance = balance - ?, updated_at = ?
WHERE guild_id = ? AND balance >= ?
`, amount, s.clock().UTC().UnixMilli(), strings.TrimSpace(guildID), amount)
	if err != nil {
		return fmt.Errorf("debit vault: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit vault rows: %w", err)
	}
	if affected == 0 {
		return ledger.ErrInsufficientFunds
	}
	return nil
}

// Credit deposits into a vault, creating it on first use.
func (s *Store) Credit(ctx context.Context, guildID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO vaults (guild_id, balance, updated_at) VALUES (?, ?, ?)
ON CONFLICT(guild_id) DO UPDATE SET
	balance = balance + excluded.balance,
	updated_at = excluded.updated_at
`, strings.TrimSpace(guildID), amount, s.clock().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("credit vault: %w", err)
	}
	return nil
}

// Balance returns a guild's vault balance. A guild with no vault row has a
// balance of zero.
func (s *Store) Balance(ctx context.Context, guildID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	var balance int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT balance FROM vaults WHERE guild_id = ?`, strings.TrimSpace(guildID),
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read vault balance: %w", err)
	}
	return balance, nil
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("vault storage is not configured")
	}
	return nil
}

var _ ledger.Ledger = (*Store)(nil)
