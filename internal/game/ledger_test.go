package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"maniafly/internal/wallet"
)

// stallingWallet wraps the memory wallet so tests can hold a credit open
// across a settlement pass and make it fail on release.
type stallingWallet struct {
	*wallet.Memory
	gate        chan struct{} // when non-nil, Credit blocks until closed
	failCredits int32         // number of credits to fail before passing through
}

func (w *stallingWallet) Credit(ctx context.Context, playerID string, amount float64, idempotencyKey string) error {
	if w.gate != nil {
		<-w.gate
	}
	if atomic.AddInt32(&w.failCredits, -1) >= 0 {
		return wallet.ErrUnavailable
	}
	return w.Memory.Credit(ctx, playerID, amount, idempotencyKey)
}

func newTestLedger(t *testing.T, balances map[string]float64) (*Ledger, *wallet.Memory) {
	t.Helper()
	w := wallet.NewMemory()
	for player, balance := range balances {
		if err := w.SetBalance(context.Background(), player, balance); err != nil {
			t.Fatalf("SetBalance(%s): %v", player, err)
		}
	}
	return NewLedger(w, NewMemorySnapshots(), 1.0, 10000.0), w
}

// waitingRound returns an open round plus the playing snapshot that follows
// it, back-dated so the curve currently reads atMultiplier.
func waitingRound(curve Curve, roundID string, crashPoint, atMultiplier float64) (*Round, *Round) {
	waiting := &Round{
		ID:            roundID,
		Phase:         PhaseWaiting,
		SeedHash:      "hash",
		CrashPoint:    crashPoint,
		BettingEndsAt: time.Now().Add(time.Minute),
	}
	playing := waiting.withPhase(PhasePlaying)
	playing.StartedAt = time.Now().Add(-curve.TimeForMultiplier(atMultiplier))
	return waiting, playing
}

func TestLedger_PlaceBet(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)

	t.Run("debits the stake", func(t *testing.T) {
		l, w := newTestLedger(t, map[string]float64{"alice": 100})
		waiting, _ := waitingRound(curve, "r1", 2.5, 1.0)
		l.OpenRound(waiting.ID)

		bet, err := l.PlaceBet(ctx, "alice", waiting, 10, 0)
		if err != nil {
			t.Fatalf("PlaceBet() error: %v", err)
		}
		if bet.Status() != BetPlaced {
			t.Errorf("bet status = %v, want %v", bet.Status(), BetPlaced)
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 90 {
			t.Errorf("balance after bet = %v, want 90", balance)
		}
	})

	t.Run("rejects a second bet from the same player", func(t *testing.T) {
		l, w := newTestLedger(t, map[string]float64{"alice": 100})
		waiting, _ := waitingRound(curve, "r1", 2.5, 1.0)
		l.OpenRound(waiting.ID)

		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
			t.Fatalf("first PlaceBet() error: %v", err)
		}
		if _, err := l.PlaceBet(ctx, "alice", waiting, 5, 0); !errors.Is(err, ErrDuplicateBet) {
			t.Errorf("second PlaceBet() error = %v, want ErrDuplicateBet", err)
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 90 {
			t.Errorf("rejected bet touched the balance: %v", balance)
		}
	})

	t.Run("rejects insufficient funds without recording a bet", func(t *testing.T) {
		l, _ := newTestLedger(t, map[string]float64{"poor": 5})
		waiting, _ := waitingRound(curve, "r1", 2.5, 1.0)
		l.OpenRound(waiting.ID)

		if _, err := l.PlaceBet(ctx, "poor", waiting, 10, 0); !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("PlaceBet() error = %v, want ErrInsufficientFunds", err)
		}
		if _, ok := l.Lookup(waiting.ID, "poor"); ok {
			t.Error("failed bet was still recorded")
		}
		// The slot is free again for a valid retry.
		if _, err := l.PlaceBet(ctx, "poor", waiting, 5, 0); err != nil {
			t.Errorf("retry after failed debit: %v", err)
		}
	})

	t.Run("rejects amounts outside the limits", func(t *testing.T) {
		l, _ := newTestLedger(t, map[string]float64{"alice": 1e6})
		waiting, _ := waitingRound(curve, "r1", 2.5, 1.0)
		l.OpenRound(waiting.ID)

		for _, amount := range []float64{0, 0.5, 10001} {
			if _, err := l.PlaceBet(ctx, "alice", waiting, amount, 0); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("PlaceBet(%v) error = %v, want ErrInvalidAmount", amount, err)
			}
		}
	})

	t.Run("rejects bets after the window closes", func(t *testing.T) {
		l, w := newTestLedger(t, map[string]float64{"alice": 100})
		waiting, _ := waitingRound(curve, "r1", 2.5, 1.0)
		l.OpenRound(waiting.ID)
		l.CloseBetting(waiting.ID)

		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); !errors.Is(err, ErrRoundClosed) {
			t.Errorf("PlaceBet() error = %v, want ErrRoundClosed", err)
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 100 {
			t.Errorf("rejected bet touched the balance: %v", balance)
		}
	})

	t.Run("rejects bets once the round is playing", func(t *testing.T) {
		l, _ := newTestLedger(t, map[string]float64{"alice": 100})
		_, playing := waitingRound(curve, "r1", 2.5, 1.2)
		l.OpenRound(playing.ID)

		if _, err := l.PlaceBet(ctx, "alice", playing, 10, 0); !errors.Is(err, ErrRoundClosed) {
			t.Errorf("PlaceBet() error = %v, want ErrRoundClosed", err)
		}
	})
}

func TestLedger_CashOut(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)

	t.Run("pays stake times multiplier", func(t *testing.T) {
		l, w := newTestLedger(t, map[string]float64{"alice": 100, "bob": 100})
		waiting, playing := waitingRound(curve, "r1", 2.50, 2.10)
		l.OpenRound(waiting.ID)
		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
			t.Fatalf("PlaceBet(alice): %v", err)
		}
		if _, err := l.PlaceBet(ctx, "bob", waiting, 10, 0); err != nil {
			t.Fatalf("PlaceBet(bob): %v", err)
		}
		l.CloseBetting(waiting.ID)

		multiplier, payout, err := l.CashOut(ctx, "alice", playing, curve)
		if err != nil {
			t.Fatalf("CashOut() error: %v", err)
		}
		// The clock keeps ticking between back-dating and the cashout, so
		// the multiplier lands at or just past the target.
		if multiplier < 2.10 || multiplier >= 2.50 {
			t.Errorf("cashout multiplier = %v, want in [2.10, 2.50)", multiplier)
		}
		if payout != roundCents(10*multiplier) {
			t.Errorf("payout = %v, want %v", payout, roundCents(10*multiplier))
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 90+payout {
			t.Errorf("balance = %v, want %v", balance, 90+payout)
		}

		// The other player never cashed out and loses at the crash.
		if lost := l.ForceSettleRoundLosses(waiting.ID); lost != 1 {
			t.Errorf("ForceSettleRoundLosses() = %d, want 1", lost)
		}
		bob, _ := l.Lookup(waiting.ID, "bob")
		if bob.Status() != BetLost {
			t.Errorf("bob status = %v, want %v", bob.Status(), BetLost)
		}
		bobBalance, _ := w.Balance(ctx, "bob")
		if bobBalance != 90 {
			t.Errorf("losing stake came back: balance %v", bobBalance)
		}
	})

	t.Run("refuses once the crash point is passed", func(t *testing.T) {
		l, w := newTestLedger(t, map[string]float64{"alice": 100})
		waiting, playing := waitingRound(curve, "r1", 1.50, 2.00)
		l.OpenRound(waiting.ID)
		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
			t.Fatalf("PlaceBet(): %v", err)
		}
		l.CloseBetting(waiting.ID)

		if _, _, err := l.CashOut(ctx, "alice", playing, curve); !errors.Is(err, ErrRoundAlreadyCrashed) {
			t.Errorf("CashOut() error = %v, want ErrRoundAlreadyCrashed", err)
		}
		if lost := l.ForceSettleRoundLosses(waiting.ID); lost != 1 {
			t.Errorf("ForceSettleRoundLosses() = %d, want 1", lost)
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 90 {
			t.Errorf("late cashout paid out: balance %v", balance)
		}
	})

	t.Run("refuses before the round starts", func(t *testing.T) {
		l, _ := newTestLedger(t, map[string]float64{"alice": 100})
		waiting, _ := waitingRound(curve, "r1", 2.50, 1.0)
		l.OpenRound(waiting.ID)
		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
			t.Fatalf("PlaceBet(): %v", err)
		}

		// The bet exists; the rejection names the real cause.
		if _, _, err := l.CashOut(ctx, "alice", waiting, curve); !errors.Is(err, ErrRoundNotStarted) {
			t.Errorf("CashOut() during betting = %v, want ErrRoundNotStarted", err)
		}
	})

	t.Run("refuses without a bet", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		_, playing := waitingRound(curve, "r1", 2.50, 1.20)
		l.OpenRound(playing.ID)

		if _, _, err := l.CashOut(ctx, "ghost", playing, curve); !errors.Is(err, ErrNoActiveBet) {
			t.Errorf("CashOut() error = %v, want ErrNoActiveBet", err)
		}
	})

	t.Run("refuses on a crashed round", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		_, playing := waitingRound(curve, "r1", 2.50, 1.20)
		crashed := playing.withPhase(PhaseCrashed)

		if _, _, err := l.CashOut(ctx, "alice", crashed, curve); !errors.Is(err, ErrRoundAlreadyCrashed) {
			t.Errorf("CashOut() error = %v, want ErrRoundAlreadyCrashed", err)
		}
	})
}

func TestLedger_ConcurrentCashout(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)
	l, w := newTestLedger(t, map[string]float64{"alice": 100})
	waiting, playing := waitingRound(curve, "r1", 10.00, 2.00)
	l.OpenRound(waiting.ID)
	if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
		t.Fatalf("PlaceBet(): %v", err)
	}
	l.CloseBetting(waiting.ID)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := l.CashOut(ctx, "alice", playing, curve)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrNoActiveBet) {
			t.Errorf("unexpected cashout error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d cashouts succeeded, want exactly 1", succeeded)
	}

	bet, _ := l.Lookup(waiting.ID, "alice")
	multiplier, payout := bet.Outcome()
	balance, _ := w.Balance(ctx, "alice")
	if balance != 90+payout {
		t.Errorf("balance = %v, want %v (paid once at %vx)", balance, 90+payout, multiplier)
	}
}

func TestLedger_ForceSettleIdempotent(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)
	l, w := newTestLedger(t, map[string]float64{"alice": 100, "bob": 100})
	waiting, playing := waitingRound(curve, "r1", 2.50, 2.00)
	l.OpenRound(waiting.ID)
	if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
		t.Fatalf("PlaceBet(alice): %v", err)
	}
	if _, err := l.PlaceBet(ctx, "bob", waiting, 10, 0); err != nil {
		t.Fatalf("PlaceBet(bob): %v", err)
	}
	l.CloseBetting(waiting.ID)

	if _, _, err := l.CashOut(ctx, "alice", playing, curve); err != nil {
		t.Fatalf("CashOut(alice): %v", err)
	}

	if lost := l.ForceSettleRoundLosses(waiting.ID); lost != 1 {
		t.Errorf("first ForceSettleRoundLosses() = %d, want 1", lost)
	}
	if lost := l.ForceSettleRoundLosses(waiting.ID); lost != 0 {
		t.Errorf("second ForceSettleRoundLosses() = %d, want 0", lost)
	}

	// The winner's settlement survives the forced pass.
	alice, _ := l.Lookup(waiting.ID, "alice")
	if alice.Status() != BetCashedOut {
		t.Errorf("alice status = %v, want %v", alice.Status(), BetCashedOut)
	}
	_, payout := alice.Outcome()
	balance, _ := w.Balance(ctx, "alice")
	if balance != 90+payout {
		t.Errorf("forced settlement changed the winner's balance: %v", balance)
	}
}

func TestLedger_RunAutoCashouts(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)
	l, _ := newTestLedger(t, map[string]float64{"auto": 100, "manual": 100})
	waiting, playing := waitingRound(curve, "r1", 5.00, 1.60)
	l.OpenRound(waiting.ID)
	if _, err := l.PlaceBet(ctx, "auto", waiting, 10, 1.50); err != nil {
		t.Fatalf("PlaceBet(auto): %v", err)
	}
	if _, err := l.PlaceBet(ctx, "manual", waiting, 10, 0); err != nil {
		t.Fatalf("PlaceBet(manual): %v", err)
	}
	l.CloseBetting(waiting.ID)

	type notification struct {
		playerID   string
		multiplier float64
	}
	var mu sync.Mutex
	var notified []notification
	l.RunAutoCashouts(ctx, playing, curve, func(playerID string, multiplier, payout float64) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, notification{playerID, multiplier})
	})

	bet, _ := l.Lookup(waiting.ID, "auto")
	deadline := time.Now().Add(2 * time.Second)
	for bet.Status() != BetCashedOut {
		if time.Now().After(deadline) {
			t.Fatalf("auto bet never cashed out, status %v", bet.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}

	multiplier, _ := bet.Outcome()
	if multiplier < 1.50 || multiplier >= 5.00 {
		t.Errorf("auto cashout multiplier = %v, want in [1.50, 5.00)", multiplier)
	}
	manual, _ := l.Lookup(waiting.ID, "manual")
	if manual.Status() != BetPlaced {
		t.Errorf("manual bet status = %v, want %v", manual.Status(), BetPlaced)
	}

	// The settled auto-cashout is announced, same as a manual one would be.
	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Fatalf("notify called %d times, want 1", len(notified))
	}
	if notified[0].playerID != "auto" || notified[0].multiplier != multiplier {
		t.Errorf("notified %+v, want auto at %v", notified[0], multiplier)
	}
}

func TestLedger_CashOutCreditFailure(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)

	t.Run("reopens for retry before forced settlement", func(t *testing.T) {
		w := &stallingWallet{Memory: wallet.NewMemory(), failCredits: 1}
		w.SetBalance(ctx, "alice", 100)
		l := NewLedger(w, NewMemorySnapshots(), 1.0, 10000.0)
		waiting, playing := waitingRound(curve, "r1", 2.50, 2.00)
		l.OpenRound(waiting.ID)
		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
			t.Fatalf("PlaceBet(): %v", err)
		}
		l.CloseBetting(waiting.ID)

		if _, _, err := l.CashOut(ctx, "alice", playing, curve); !errors.Is(err, ErrBalanceStoreUnavailable) {
			t.Fatalf("CashOut() error = %v, want ErrBalanceStoreUnavailable", err)
		}
		bet, _ := l.Lookup(waiting.ID, "alice")
		if bet.Status() != BetPlaced {
			t.Fatalf("bet status after failed credit = %v, want %v for retry", bet.Status(), BetPlaced)
		}

		// The retry succeeds and pays exactly once.
		multiplier, payout, err := l.CashOut(ctx, "alice", playing, curve)
		if err != nil {
			t.Fatalf("retry CashOut() error: %v", err)
		}
		if payout != roundCents(10*multiplier) {
			t.Errorf("payout = %v, want %v", payout, roundCents(10*multiplier))
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 90+payout {
			t.Errorf("balance = %v, want %v", balance, 90+payout)
		}
	})

	t.Run("stays terminal once forced settlement has run", func(t *testing.T) {
		w := &stallingWallet{Memory: wallet.NewMemory(), gate: make(chan struct{}), failCredits: 2}
		w.SetBalance(ctx, "alice", 100)
		l := NewLedger(w, NewMemorySnapshots(), 1.0, 10000.0)
		waiting, playing := waitingRound(curve, "r1", 2.50, 2.00)
		l.OpenRound(waiting.ID)
		if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
			t.Fatalf("PlaceBet(): %v", err)
		}
		l.CloseBetting(waiting.ID)

		// The cashout wins the status race, then its credit hangs.
		done := make(chan struct{})
		go func() {
			defer close(done)
			l.CashOut(ctx, "alice", playing, curve)
		}()

		bet, _ := l.Lookup(waiting.ID, "alice")
		deadline := time.Now().Add(2 * time.Second)
		for bet.Status() != BetCashedOut {
			if time.Now().After(deadline) {
				t.Fatalf("cashout never reached the settle step, status %v", bet.Status())
			}
			time.Sleep(time.Millisecond)
		}

		// Crash settlement runs while the credit is still in flight and
		// rightly skips the cashed-out bet.
		if lost := l.ForceSettleRoundLosses(waiting.ID); lost != 0 {
			t.Fatalf("ForceSettleRoundLosses() = %d, want 0", lost)
		}

		// Now the credit fails. The bet must not slip back to placed:
		// nothing would ever settle it again.
		close(w.gate)
		<-done
		if bet.Status() != BetCashedOut {
			t.Fatalf("bet status after late credit failure = %v, want %v", bet.Status(), BetCashedOut)
		}
		if lost := l.ForceSettleRoundLosses(waiting.ID); lost != 0 {
			t.Errorf("second ForceSettleRoundLosses() = %d, want 0", lost)
		}

		// The payout is recorded and its idempotency key still delivers.
		_, payout := bet.Outcome()
		if payout <= 0 {
			t.Fatalf("payout = %v, want positive", payout)
		}
		if err := w.Credit(ctx, "alice", payout, "cashout:"+bet.ID); err != nil {
			t.Fatalf("replaying the credit key: %v", err)
		}
		balance, _ := w.Balance(ctx, "alice")
		if balance != 90+payout {
			t.Errorf("balance after replay = %v, want %v", balance, 90+payout)
		}
	})
}

func TestLedger_CloseRoundDropsBook(t *testing.T) {
	ctx := context.Background()
	curve := NewCurve(DefaultGrowthBase)
	l, _ := newTestLedger(t, map[string]float64{"alice": 100})
	waiting, _ := waitingRound(curve, "r1", 2.50, 1.0)
	l.OpenRound(waiting.ID)
	if _, err := l.PlaceBet(ctx, "alice", waiting, 10, 0); err != nil {
		t.Fatalf("PlaceBet(): %v", err)
	}

	l.CloseRound(ctx, waiting.ID)

	if _, ok := l.Lookup(waiting.ID, "alice"); ok {
		t.Error("closed round still has bets")
	}
	if bets := l.RoundBets(waiting.ID); bets != nil {
		t.Errorf("RoundBets() after close = %v, want nil", bets)
	}
}
