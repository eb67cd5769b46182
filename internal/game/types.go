package game

// Request and response bodies for the HTTP surface, plus the events pushed
// through the hub. The crash point and server seed of a live round never
// appear in any of these.

type BetRequest struct {
	PlayerID    string  `json:"player_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type BetReceipt struct {
	BetID   string `json:"bet_id"`
	RoundID string `json:"round_id"`
}

type CashoutRequest struct {
	PlayerID string `json:"player_id"`
	RoundID  string `json:"round_id"`
}

type CashoutReceipt struct {
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}

// StatusReport is the poll-friendly view of the engine; safe to request at
// sub-second intervals.
type StatusReport struct {
	RoundID          string    `json:"round_id,omitempty"`
	Phase            string    `json:"phase"`
	Multiplier       float64   `json:"multiplier"`
	CountdownSeconds float64   `json:"countdown_seconds,omitempty"`
	History          []float64 `json:"history"`
	SeedHash         string    `json:"seed_hash,omitempty"`
}

// VerifyReport lets anyone recompute a crashed round's outcome from its
// revealed seed.
type VerifyReport struct {
	RoundID    string  `json:"round_id"`
	SeedHash   string  `json:"seed_hash"`
	ServerSeed string  `json:"server_seed"`
	CrashPoint float64 `json:"crash_point"`
	Valid      bool    `json:"valid"`
}

// Event is one hub broadcast frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type RoundStartEvent struct {
	RoundID        string  `json:"round_id"`
	SeedHash       string  `json:"seed_hash"`
	BettingSeconds float64 `json:"betting_seconds"`
}

type RoundRunningEvent struct {
	RoundID string `json:"round_id"`
}

type UpdateEvent struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type CrashEvent struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	ServerSeed string  `json:"server_seed"`
}

type BetPlacedEvent struct {
	PlayerID string  `json:"player_id"`
	BetID    string  `json:"bet_id"`
	RoundID  string  `json:"round_id"`
	Amount   float64 `json:"amount"`
}

type CashoutEvent struct {
	PlayerID   string  `json:"player_id"`
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}
