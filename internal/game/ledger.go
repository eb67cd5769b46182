package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"maniafly/internal/wallet"
)

// Ledger accepts bet placements and cashouts for the current round. Request
// handlers call into it concurrently; the only orchestrator-driven entry
// points are OpenRound, CloseBetting, ForceSettleRoundLosses and CloseRound.
//
// The ledger's own mutex guards the round/bet maps and the open/closed flag.
// It is never held across a balance-store call, so bettors do not serialize
// behind each other's debits. Settlement races are decided per bet by
// Bet.settle, not by lock ordering.
type Ledger struct {
	wallet    wallet.Store
	snapshots Snapshots // may be nil; recovery then has nothing to refund
	minBet    float64
	maxBet    float64

	mu     sync.RWMutex
	rounds map[string]*roundBook
}

type roundBook struct {
	open    bool
	settled bool                 // forced settlement has started; no bet may reopen
	bets    map[string]*Bet      // playerID -> bet
	pending map[string]struct{}  // playerIDs with a debit in flight
}

func NewLedger(w wallet.Store, snapshots Snapshots, minBet, maxBet float64) *Ledger {
	return &Ledger{
		wallet:    w,
		snapshots: snapshots,
		minBet:    minBet,
		maxBet:    maxBet,
		rounds:    make(map[string]*roundBook),
	}
}

// OpenRound starts accepting bets for roundID.
func (l *Ledger) OpenRound(roundID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rounds[roundID] = &roundBook{
		open:    true,
		bets:    make(map[string]*Bet),
		pending: make(map[string]struct{}),
	}
}

// CloseBetting rejects all further placements for roundID. Holding the same
// mutex PlaceBet reserves under makes the close a strict boundary: every bet
// is either fully placed before it or rejected, never queued.
func (l *Ledger) CloseBetting(roundID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rb, ok := l.rounds[roundID]; ok {
		rb.open = false
	}
}

// PlaceBet debits the stake and records the bet as a single unit: a failed
// debit leaves no bet behind, and a debit that lands after the betting
// window closed is refunded and rejected.
func (l *Ledger) PlaceBet(ctx context.Context, playerID string, round *Round, amount, autoCashout float64) (*Bet, error) {
	if amount < l.minBet || amount > l.maxBet {
		return nil, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", ErrInvalidAmount, amount, l.minBet, l.maxBet)
	}
	if round == nil || round.Phase != PhaseWaiting {
		return nil, ErrRoundClosed
	}

	// Reserve the player's one-bet-per-round slot before touching money.
	l.mu.Lock()
	rb, ok := l.rounds[round.ID]
	if !ok || !rb.open {
		l.mu.Unlock()
		return nil, ErrRoundClosed
	}
	if _, dup := rb.bets[playerID]; dup {
		l.mu.Unlock()
		return nil, ErrDuplicateBet
	}
	if _, dup := rb.pending[playerID]; dup {
		l.mu.Unlock()
		return nil, ErrDuplicateBet
	}
	rb.pending[playerID] = struct{}{}
	l.mu.Unlock()

	betID := uuid.NewString()
	if err := l.wallet.Debit(ctx, playerID, amount, "bet:"+betID); err != nil {
		l.mu.Lock()
		delete(rb.pending, playerID)
		l.mu.Unlock()
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("%w: %v", ErrBalanceStoreUnavailable, err)
	}

	bet := &Bet{
		ID:          betID,
		PlayerID:    playerID,
		RoundID:     round.ID,
		Amount:      amount,
		AutoCashout: autoCashout,
		PlacedAt:    time.Now(),
		status:      BetPlaced,
	}

	l.mu.Lock()
	delete(rb.pending, playerID)
	if !rb.open {
		// Betting closed while the debit was in flight. The stake goes
		// straight back; the bet never existed.
		l.mu.Unlock()
		if err := l.wallet.Credit(ctx, playerID, amount, "refund:"+betID); err != nil {
			log.Printf("[LEDGER] Refund of late bet %s failed: %v", betID, err)
		}
		return nil, ErrRoundClosed
	}
	rb.bets[playerID] = bet
	l.mu.Unlock()

	l.snapshotBet(ctx, bet)
	return bet, nil
}

// CashOut settles the player's bet at the multiplier the curve reports right
// now. The elapsed-time check against the hidden crash point, the status
// transition and the balance credit form one atomic settlement: a concurrent
// forced loss can interleave only before or after the compare-and-set, and
// exactly one side wins.
func (l *Ledger) CashOut(ctx context.Context, playerID string, round *Round, curve Curve) (float64, float64, error) {
	if round == nil {
		return 0, 0, ErrNoActiveBet
	}
	switch round.Phase {
	case PhasePlaying:
	case PhaseCrashed:
		return 0, 0, ErrRoundAlreadyCrashed
	default:
		return 0, 0, ErrRoundNotStarted
	}

	l.mu.RLock()
	rb, ok := l.rounds[round.ID]
	var bet *Bet
	if ok {
		bet = rb.bets[playerID]
	}
	l.mu.RUnlock()
	if bet == nil {
		return 0, 0, ErrNoActiveBet
	}

	multiplier := curve.ValueAt(time.Since(round.StartedAt))
	if multiplier >= round.CrashPoint {
		// Too late: the outcome is already decided even if the crash
		// timer has not fired yet. The bet stays placed for the forced
		// settlement to collect.
		return 0, 0, ErrRoundAlreadyCrashed
	}

	payout := roundCents(bet.Amount * multiplier)
	if !bet.settle(BetCashedOut, multiplier, payout) {
		return 0, 0, ErrNoActiveBet
	}

	if err := l.wallet.Credit(ctx, playerID, payout, "cashout:"+bet.ID); err != nil {
		// The credit is idempotent, so reopening and letting the player
		// retry cannot double-pay. Once the round's forced settlement has
		// started the bet must not return to placed: nothing would settle
		// it again. The cashout then stands and the credit is replayed
		// under the same key.
		if l.reopenForRetry(round.ID, bet) {
			return 0, 0, fmt.Errorf("%w: %v", ErrBalanceStoreUnavailable, err)
		}
		if err := l.wallet.Credit(ctx, playerID, payout, "cashout:"+bet.ID); err != nil {
			log.Printf("[LEDGER] Payout for bet %s undelivered, credit key cashout:%s is replayable: %v", bet.ID, bet.ID, err)
		}
	}

	l.snapshotBet(ctx, bet)
	return multiplier, payout, nil
}

// reopenForRetry returns a cashed-out bet to placed so the player can retry
// a failed credit. Refused once forced settlement has started (or the round
// book is gone): past that point the loss pass will never run again, so the
// bet has to keep its terminal status.
func (l *Ledger) reopenForRetry(roundID string, bet *Bet) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rb, ok := l.rounds[roundID]
	if !ok || rb.settled {
		return false
	}
	bet.reopen()
	return true
}

// ForceSettleRoundLosses marks every still-placed bet of the round as lost
// with zero payout. Safe to call more than once: bets already terminal are
// skipped and no balance is touched here at all. Raising the settled flag
// under the same mutex reopenForRetry takes means a bet is either back to
// placed before this pass collects it, or terminal for good.
func (l *Ledger) ForceSettleRoundLosses(roundID string) int {
	l.mu.Lock()
	rb, ok := l.rounds[roundID]
	var bets []*Bet
	if ok {
		rb.settled = true
		bets = make([]*Bet, 0, len(rb.bets))
		for _, b := range rb.bets {
			bets = append(bets, b)
		}
	}
	l.mu.Unlock()

	lost := 0
	for _, b := range bets {
		if b.settle(BetLost, 0, 0) {
			lost++
		}
	}
	return lost
}

// RunAutoCashouts fires a normal cashout for every placed bet whose target
// the curve has crossed. Each fires concurrently, exactly as if the player
// had clicked; the usual time check and status guard still apply. notify is
// called for each settled cashout so the caller can broadcast it.
func (l *Ledger) RunAutoCashouts(ctx context.Context, round *Round, curve Curve, notify func(playerID string, multiplier, payout float64)) {
	if round == nil || round.Phase != PhasePlaying {
		return
	}
	current := curve.ValueAt(time.Since(round.StartedAt))

	l.mu.RLock()
	rb, ok := l.rounds[round.ID]
	var due []*Bet
	if ok {
		for _, b := range rb.bets {
			if b.AutoCashout > 0 && current >= b.AutoCashout && b.Status() == BetPlaced {
				due = append(due, b)
			}
		}
	}
	l.mu.RUnlock()

	for _, b := range due {
		go func(b *Bet) {
			multiplier, payout, err := l.CashOut(ctx, b.PlayerID, round, curve)
			if err != nil {
				log.Printf("[LEDGER] Auto-cashout for bet %s: %v", b.ID, err)
				return
			}
			if notify != nil {
				notify(b.PlayerID, multiplier, payout)
			}
		}(b)
	}
}

// Lookup returns the player's bet for the round, if any.
func (l *Ledger) Lookup(roundID, playerID string) (*Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rb, ok := l.rounds[roundID]
	if !ok {
		return nil, false
	}
	b, ok := rb.bets[playerID]
	return b, ok
}

// RoundBets returns all bets recorded for the round.
func (l *Ledger) RoundBets(roundID string) []*Bet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rb, ok := l.rounds[roundID]
	if !ok {
		return nil
	}
	out := make([]*Bet, 0, len(rb.bets))
	for _, b := range rb.bets {
		out = append(out, b)
	}
	return out
}

// CloseRound drops the round's in-memory book and its recovery snapshot.
// Called after every bet has been settled and durably recorded.
func (l *Ledger) CloseRound(ctx context.Context, roundID string) {
	l.mu.Lock()
	delete(l.rounds, roundID)
	l.mu.Unlock()

	if l.snapshots != nil {
		if err := l.snapshots.Delete(ctx, roundID); err != nil {
			log.Printf("[LEDGER] Dropping snapshot for round %s: %v", roundID, err)
		}
	}
}

func (l *Ledger) snapshotBet(ctx context.Context, bet *Bet) {
	if l.snapshots == nil {
		return
	}
	entry := SnapshotEntry{
		BetID:     bet.ID,
		PlayerID:  bet.PlayerID,
		Amount:    bet.Amount,
		CashedOut: bet.Status() == BetCashedOut,
	}
	if err := l.snapshots.Put(ctx, bet.RoundID, entry); err != nil {
		log.Printf("[LEDGER] Snapshot for bet %s: %v", bet.ID, err)
	}
}
