// Package store durably records completed rounds (with their revealed
// seeds) and every terminal bet, for dispute resolution and fairness audits.
// It also remembers which rounds were left playing, which is how a restarted
// engine knows what to void and refund.
package store

import (
	"context"
	"sync"
	"time"
)

type RoundStatus string

const (
	RoundPlaying RoundStatus = "playing"
	RoundCrashed RoundStatus = "crashed"
	RoundVoided  RoundStatus = "voided"
)

type Round struct {
	ID         string
	SeedHash   string
	ServerSeed string
	CrashPoint float64
	Status     RoundStatus
	StartedAt  time.Time
	CrashedAt  time.Time
}

type Bet struct {
	ID                string
	RoundID           string
	PlayerID          string
	Amount            float64
	Status            string
	CashoutMultiplier float64
	Payout            float64
	PlacedAt          time.Time
	SettledAt         time.Time
}

type Store interface {
	// CreateRound records a round the moment it starts playing. The server
	// seed is written immediately but only served back once the round is
	// crashed.
	CreateRound(ctx context.Context, r Round) error
	MarkRoundCrashed(ctx context.Context, roundID string, crashedAt time.Time) error
	MarkRoundVoided(ctx context.Context, roundID string) error
	// OpenRounds lists rounds still marked playing; after a restart these
	// are the rounds whose outcome can no longer be trusted.
	OpenRounds(ctx context.Context) ([]Round, error)
	GetRound(ctx context.Context, roundID string) (Round, error)
	RecordBets(ctx context.Context, bets []Bet) error
}

// Memory implements Store in process, for engine tests.
type Memory struct {
	mu     sync.Mutex
	rounds map[string]*Round
	bets   map[string]Bet
}

func NewMemory() *Memory {
	return &Memory{
		rounds: make(map[string]*Round),
		bets:   make(map[string]Bet),
	}
}

func (m *Memory) CreateRound(_ context.Context, r Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := r
	m.rounds[r.ID] = &copied
	return nil
}

func (m *Memory) MarkRoundCrashed(_ context.Context, roundID string, crashedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rounds[roundID]; ok {
		r.Status = RoundCrashed
		r.CrashedAt = crashedAt
	}
	return nil
}

func (m *Memory) MarkRoundVoided(_ context.Context, roundID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rounds[roundID]; ok {
		r.Status = RoundVoided
	}
	return nil
}

func (m *Memory) OpenRounds(_ context.Context) ([]Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []Round
	for _, r := range m.rounds {
		if r.Status == RoundPlaying {
			open = append(open, *r)
		}
	}
	return open, nil
}

func (m *Memory) GetRound(_ context.Context, roundID string) (Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rounds[roundID]; ok {
		return *r, nil
	}
	return Round{}, ErrRoundNotFound
}

func (m *Memory) RecordBets(_ context.Context, bets []Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bets {
		m.bets[b.ID] = b
	}
	return nil
}

// Bets returns every recorded bet, test helper.
func (m *Memory) Bets() []Bet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Bet, 0, len(m.bets))
	for _, b := range m.bets {
		out = append(out, b)
	}
	return out
}
