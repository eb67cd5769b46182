package game

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"maniafly/internal/store"
	"maniafly/internal/wallet"
)

const commitAttempts = 3

// Orchestrator drives the round cycle. Exactly one goroutine (its loop)
// writes the published round, arms the crash timer, force-settles losses and
// reveals seeds; request handlers only ever read the current round snapshot
// and act on individual bets through the ledger.
type Orchestrator struct {
	cfg    Config
	curve  Curve
	fair   *Fairness
	ledger *Ledger
	hub    *Hub
	audit  store.Store
	wallet wallet.Store

	snapshots Snapshots
	history   *History
	current   atomic.Pointer[Round]

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewOrchestrator(cfg Config, w wallet.Store, audit store.Store, snapshots Snapshots, hub *Hub) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		curve:     NewCurve(cfg.GrowthBase),
		fair:      NewFairness(cfg.HouseEdge, cfg.MaxMultiplier),
		ledger:    NewLedger(w, snapshots, cfg.MinBet, cfg.MaxBet),
		hub:       hub,
		audit:     audit,
		wallet:    w,
		snapshots: snapshots,
		history:   NewHistory(cfg.HistorySize),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start voids any round a previous process left mid-flight, then launches
// the round loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.recoverInterruptedRounds(ctx); err != nil {
		return fmt.Errorf("recover interrupted rounds: %w", err)
	}
	go o.loop()
	return nil
}

// Stop halts the loop. An in-flight round is voided and refunded, same as
// on restart, so no stake is ever stranded by a shutdown.
func (o *Orchestrator) Stop() {
	close(o.stopChan)
	<-o.doneChan
}

// Ledger exposes the bet ledger for request handlers.
func (o *Orchestrator) Ledger() *Ledger { return o.ledger }

// CurrentRound returns the published round snapshot, or nil before the
// first round starts.
func (o *Orchestrator) CurrentRound() *Round { return o.current.Load() }

// Status builds the client-facing view of the engine. The crash point and
// server seed never appear here.
func (o *Orchestrator) Status() StatusReport {
	report := StatusReport{
		Phase:   string(PhaseWaiting),
		History: o.history.Points(),
	}
	r := o.current.Load()
	if r == nil {
		report.Multiplier = MinMultiplier
		return report
	}
	report.RoundID = r.ID
	report.Phase = string(r.Phase)
	report.SeedHash = r.SeedHash
	switch r.Phase {
	case PhaseWaiting:
		report.Multiplier = MinMultiplier
		if remaining := time.Until(r.BettingEndsAt); remaining > 0 {
			report.CountdownSeconds = remaining.Seconds()
		}
	case PhasePlaying:
		m := o.curve.ValueAt(time.Since(r.StartedAt))
		if m > r.CrashPoint {
			m = r.CrashPoint
		}
		report.Multiplier = m
	case PhaseCrashed:
		report.Multiplier = r.CrashPoint
	}
	return report
}

// PlaceBet places a bet on the current round.
func (o *Orchestrator) PlaceBet(ctx context.Context, playerID string, amount, autoCashout float64) (*Bet, error) {
	round := o.current.Load()
	if round == nil {
		return nil, ErrRoundClosed
	}
	bet, err := o.ledger.PlaceBet(ctx, playerID, round, amount, autoCashout)
	if err != nil {
		return nil, err
	}
	o.hub.Broadcast(Event{Type: "bet_placed", Data: BetPlacedEvent{
		PlayerID: playerID,
		BetID:    bet.ID,
		RoundID:  round.ID,
		Amount:   amount,
	}})
	return bet, nil
}

// CashOut cashes out the player's bet on roundID at the current multiplier.
func (o *Orchestrator) CashOut(ctx context.Context, playerID, roundID string) (float64, float64, error) {
	round := o.current.Load()
	if round == nil || round.ID != roundID {
		// A stale round ID means that round is already over.
		return 0, 0, ErrRoundAlreadyCrashed
	}
	multiplier, payout, err := o.ledger.CashOut(ctx, playerID, round, o.curve)
	if err != nil {
		return 0, 0, err
	}
	o.hub.Broadcast(Event{Type: "cashout", Data: CashoutEvent{
		PlayerID:   playerID,
		RoundID:    round.ID,
		Multiplier: multiplier,
		Payout:     payout,
	}})
	return multiplier, payout, nil
}

func (o *Orchestrator) loop() {
	defer close(o.doneChan)
	for {
		select {
		case <-o.stopChan:
			log.Println("[GAME] Round loop stopped")
			return
		default:
			if err := o.runRound(); err != nil {
				// A failed round is voided, never fatal. Back off so a
				// persistent fault cannot spin the loop.
				log.Printf("[GAME] Round aborted: %v", err)
				if !o.sleep(time.Second) {
					return
				}
			}
		}
	}
}

// runRound executes one full Waiting -> Playing -> Crashed cycle.
func (o *Orchestrator) runRound() error {
	ctx := context.Background()
	roundID := uuid.NewString()

	seedHash, crashPoint, err := o.commitWithRetry(roundID)
	if err != nil {
		return err
	}

	round := &Round{
		ID:            roundID,
		Phase:         PhaseWaiting,
		SeedHash:      seedHash,
		CrashPoint:    crashPoint,
		BettingEndsAt: time.Now().Add(o.cfg.BettingWindow),
	}
	o.current.Store(round)
	o.ledger.OpenRound(roundID)

	log.Printf("[GAME] Round %s committed (hash %s...)", roundID, seedHash[:16])
	o.hub.Broadcast(Event{Type: "round_start", Data: RoundStartEvent{
		RoundID:        roundID,
		SeedHash:       seedHash,
		BettingSeconds: o.cfg.BettingWindow.Seconds(),
	}})

	if !o.sleep(o.cfg.BettingWindow) {
		o.voidRound(ctx, round, false)
		return nil
	}

	// The window closes before the phase flips, so a bet can never land in
	// the same instant the curve starts.
	o.ledger.CloseBetting(roundID)

	// The durable record goes in before play starts: a process dying at any
	// later point leaves a round the recovery pass can see and void, and the
	// insert's latency cannot shift the crash instant off the curve.
	if err := o.audit.CreateRound(ctx, store.Round{
		ID:         roundID,
		SeedHash:   seedHash,
		ServerSeed: o.fair.seedForAudit(roundID),
		CrashPoint: crashPoint,
		Status:     store.RoundPlaying,
		StartedAt:  time.Now(),
	}); err != nil {
		log.Printf("[GAME] Recording round %s: %v", roundID, err)
	}

	playing := round.withPhase(PhasePlaying)
	playing.StartedAt = time.Now()
	o.current.Store(playing)

	o.hub.Broadcast(Event{Type: "round_running", Data: RoundRunningEvent{RoundID: roundID}})

	// The crash instant is scheduled once from the curve's inverse, never
	// polled, and anchored to StartedAt so nothing between the phase flip
	// and the arming can delay it.
	crashTimer := time.NewTimer(time.Until(playing.StartedAt.Add(o.curve.TimeForMultiplier(crashPoint))))
	defer crashTimer.Stop()
	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	for running := true; running; {
		select {
		case <-ticker.C:
			m := o.curve.ValueAt(time.Since(playing.StartedAt))
			if m > crashPoint {
				m = crashPoint
			}
			o.hub.Broadcast(Event{Type: "update", Data: UpdateEvent{RoundID: roundID, Multiplier: m}})
			o.ledger.RunAutoCashouts(ctx, playing, o.curve, func(playerID string, multiplier, payout float64) {
				o.hub.Broadcast(Event{Type: "cashout", Data: CashoutEvent{
					PlayerID:   playerID,
					RoundID:    roundID,
					Multiplier: multiplier,
					Payout:     payout,
				}})
			})
		case <-crashTimer.C:
			running = false
		case <-o.stopChan:
			o.voidRound(ctx, playing, true)
			return nil
		}
	}

	// Crash instant: losses are forced before the phase flips to Crashed,
	// so no observer can see a crashed round with bets still open.
	lost := o.ledger.ForceSettleRoundLosses(roundID)

	crashed := playing.withPhase(PhaseCrashed)
	o.current.Store(crashed)

	o.fair.Unseal(roundID)
	serverSeed, err := o.fair.Reveal(roundID)
	if err != nil {
		log.Printf("[GAME] Reveal for round %s: %v", roundID, err)
	}
	o.history.Push(crashPoint)

	log.Printf("[GAME] Round %s crashed at %.2fx (%d lost)", roundID, crashPoint, lost)
	o.hub.Broadcast(Event{Type: "crash", Data: CrashEvent{
		RoundID:    roundID,
		Multiplier: crashPoint,
		ServerSeed: serverSeed,
	}})

	crashedAt := time.Now()
	if err := o.audit.MarkRoundCrashed(ctx, roundID, crashedAt); err != nil {
		log.Printf("[GAME] Marking round %s crashed: %v", roundID, err)
	}
	o.persistBets(ctx, roundID)
	o.ledger.CloseRound(ctx, roundID)
	o.fair.Forget(roundID)

	o.sleep(o.cfg.RevealDelay)
	return nil
}

func (o *Orchestrator) commitWithRetry(roundID string) (string, float64, error) {
	var lastErr error
	for i := 0; i < commitAttempts; i++ {
		seedHash, crashPoint, err := o.fair.Commit(roundID)
		if err == nil {
			return seedHash, crashPoint, nil
		}
		lastErr = err
	}
	return "", 0, lastErr
}

func (o *Orchestrator) persistBets(ctx context.Context, roundID string) {
	bets := o.ledger.RoundBets(roundID)
	records := make([]store.Bet, 0, len(bets))
	for _, b := range bets {
		multiplier, payout := b.Outcome()
		records = append(records, store.Bet{
			ID:                b.ID,
			RoundID:           b.RoundID,
			PlayerID:          b.PlayerID,
			Amount:            b.Amount,
			Status:            string(b.Status()),
			CashoutMultiplier: multiplier,
			Payout:            payout,
			PlacedAt:          b.PlacedAt,
			SettledAt:         b.SettledAt(),
		})
	}
	if err := o.audit.RecordBets(ctx, records); err != nil {
		log.Printf("[GAME] Recording %d bets for round %s: %v", len(records), roundID, err)
	}
}

// voidRound abandons the current round and refunds every placed bet in
// full. Used on shutdown and on orchestration errors; an interrupted round's
// crash point can no longer be trusted to be reached fairly.
func (o *Orchestrator) voidRound(ctx context.Context, round *Round, persisted bool) {
	bets := o.ledger.RoundBets(round.ID)
	for _, b := range bets {
		if b.Status() != BetPlaced {
			continue
		}
		if err := o.wallet.Credit(ctx, b.PlayerID, b.Amount, "refund:"+b.ID); err != nil {
			log.Printf("[GAME] Refund for bet %s: %v", b.ID, err)
		}
	}
	if persisted {
		if err := o.audit.MarkRoundVoided(ctx, round.ID); err != nil {
			log.Printf("[GAME] Marking round %s voided: %v", round.ID, err)
		}
	}
	o.ledger.CloseRound(ctx, round.ID)
	o.fair.Forget(round.ID)
	log.Printf("[GAME] Round %s voided, %d bets refunded", round.ID, len(bets))
}

// recoverInterruptedRounds refunds the bets of every round a previous
// process left playing, then marks those rounds voided. Refunds share the
// wallet's idempotency keys, so running recovery twice cannot double-pay.
func (o *Orchestrator) recoverInterruptedRounds(ctx context.Context) error {
	open, err := o.audit.OpenRounds(ctx)
	if err != nil {
		return err
	}
	for _, r := range open {
		var entries []SnapshotEntry
		if o.snapshots != nil {
			entries, err = o.snapshots.Entries(ctx, r.ID)
			if err != nil {
				return fmt.Errorf("round %s snapshot: %w", r.ID, err)
			}
		}
		refunded := 0
		for _, e := range entries {
			if e.CashedOut {
				continue
			}
			if err := o.wallet.Credit(ctx, e.PlayerID, e.Amount, "refund:"+e.BetID); err != nil {
				// Leave the round open so the next start retries.
				return fmt.Errorf("refund bet %s: %w", e.BetID, err)
			}
			refunded++
		}
		if err := o.audit.MarkRoundVoided(ctx, r.ID); err != nil {
			return err
		}
		if o.snapshots != nil {
			if err := o.snapshots.Delete(ctx, r.ID); err != nil {
				log.Printf("[GAME] Dropping snapshot for round %s: %v", r.ID, err)
			}
		}
		log.Printf("[GAME] Voided interrupted round %s, refunded %d bets", r.ID, refunded)
	}
	return nil
}

// sleep waits for d or until Stop is called. Returns false on stop.
func (o *Orchestrator) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-o.stopChan:
		return false
	}
}
