package wallet

import (
	"context"
	"sync"
)

// Memory is an in-process Store with the same atomicity and idempotency
// semantics as the Redis ledger. Used by engine tests and local runs
// without a Redis instance.
type Memory struct {
	mu       sync.Mutex
	balances map[string]float64
	applied  map[string]struct{} // idempotency keys already applied
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]float64),
		applied:  make(map[string]struct{}),
	}
}

func (m *Memory) Debit(_ context.Context, playerID string, amount float64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}
	if m.balances[playerID] < amount {
		return ErrInsufficientFunds
	}
	m.balances[playerID] -= amount
	m.applied[idempotencyKey] = struct{}{}
	return nil
}

func (m *Memory) Credit(_ context.Context, playerID string, amount float64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applied[idempotencyKey]; ok {
		return nil
	}
	m.balances[playerID] += amount
	m.applied[idempotencyKey] = struct{}{}
	return nil
}

func (m *Memory) Balance(_ context.Context, playerID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[playerID], nil
}

func (m *Memory) SetBalance(_ context.Context, playerID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = amount
	return nil
}
