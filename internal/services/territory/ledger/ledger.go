// Package ledger defines the guild vault contract the territory engine
// debits stakes from and credits payouts to. The engine never touches vault
// storage directly; deployments may back this with an external economy
// service.
package ledger

import (
	"context"
	"errors"
)

// ErrInsufficientFunds indicates a debit larger than the guild's balance. A
// guild with no vault row has a balance of zero.
var ErrInsufficientFunds = errors.New("insufficient vault balance")

// ErrInvalidAmount indicates a non-positive debit or credit amount.
var ErrInvalidAmount = errors.New("amount must be greater than zero")

// Ledger moves stake coins in and out of guild vaults. Implementations must
// make Debit atomic: two concurrent debits never overdraw the vault.
type Ledger interface {
	// Debit withdraws amount from the guild's vault, failing with
	// ErrInsufficientFunds rather than overdrawing.
	Debit(ctx context.Context, guildID string, amount int64) error
	// Credit deposits amount into the guild's vault, creating it if needed.
	Credit(ctx context.Context, guildID string, amount int64) error
	// Balance returns the guild's current vault balance.
	Balance(ctx context.Context, guildID string) (int64, error)
}
