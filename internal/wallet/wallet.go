// Package wallet is the engine's view of the player balance ledger. Every
// mutation goes through a single debit-or-credit primitive that is atomic
// and idempotent: replaying a call with the same idempotency key never moves
// the balance a second time, which is what makes retries after ambiguous
// network failures safe.
package wallet

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds means the debit would take the balance negative.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrUnavailable is a transient store failure; the caller may retry
	// with the same idempotency key.
	ErrUnavailable = errors.New("wallet: store unavailable")
)

// Store is the balance ledger contract consumed by the bet ledger.
type Store interface {
	// Debit atomically removes amount from the player's balance, or fails
	// with ErrInsufficientFunds without changing anything.
	Debit(ctx context.Context, playerID string, amount float64, idempotencyKey string) error
	// Credit atomically adds amount to the player's balance.
	Credit(ctx context.Context, playerID string, amount float64, idempotencyKey string) error
	// Balance reads the player's current balance.
	Balance(ctx context.Context, playerID string) (float64, error)
	// SetBalance overwrites the player's balance. Admin and test use only.
	SetBalance(ctx context.Context, playerID string, amount float64) error
}
