package game

import (
	"math"
	"sync"
	"time"
)

type BetStatus string

const (
	BetPlaced    BetStatus = "placed"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
)

// Bet is one player's stake in one round. A bet leaves BetPlaced exactly
// once: either a cashout or the forced loss settlement wins the compare-and-
// set in settle, never both.
type Bet struct {
	ID          string
	PlayerID    string
	RoundID     string
	Amount      float64
	AutoCashout float64 // 0 means manual only
	PlacedAt    time.Time

	mu                sync.Mutex
	status            BetStatus
	cashoutMultiplier float64
	payout            float64
	settledAt         time.Time
}

// settle transitions the bet from BetPlaced to a terminal status. Returns
// false if another settlement already won; the bet is then left untouched.
func (b *Bet) settle(to BetStatus, multiplier, payout float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BetPlaced {
		return false
	}
	b.status = to
	b.cashoutMultiplier = multiplier
	b.payout = payout
	b.settledAt = time.Now()
	return true
}

// reopen undoes a cashout settlement whose balance credit failed, so the
// player can retry. Only valid from BetCashedOut, and only reachable through
// the ledger's reopenForRetry barrier.
func (b *Bet) reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == BetCashedOut {
		b.status = BetPlaced
		b.cashoutMultiplier = 0
		b.payout = 0
		b.settledAt = time.Time{}
	}
}

// Status returns the bet's current status.
func (b *Bet) Status() BetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Outcome returns the terminal multiplier and payout. Zero values while the
// bet is still placed.
func (b *Bet) Outcome() (multiplier, payout float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cashoutMultiplier, b.payout
}

// SettledAt returns when the bet reached a terminal status.
func (b *Bet) SettledAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settledAt
}

// roundCents rounds a currency amount to cents.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
