package game

import "errors"

// Every rejection a player can see maps to exactly one of these, so the
// client can explain why a bet or cashout failed instead of showing a
// generic error.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrDuplicateBet            = errors.New("bet already placed for this round")
	ErrRoundClosed             = errors.New("betting window is closed")
	ErrRoundNotStarted         = errors.New("round has not started yet")
	ErrRoundAlreadyCrashed     = errors.New("round already crashed")
	ErrNoActiveBet             = errors.New("no active bet for this round")
	ErrEntropyUnavailable      = errors.New("entropy unavailable")
	ErrBalanceStoreUnavailable = errors.New("balance store unavailable")
	ErrInvalidAmount           = errors.New("bet amount out of range")
)

// ErrorKind returns the stable machine-readable identifier for an engine
// error, or "internal" for anything outside the taxonomy.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateBet):
		return "duplicate_bet"
	case errors.Is(err, ErrRoundClosed):
		return "round_closed"
	case errors.Is(err, ErrRoundNotStarted):
		return "round_not_started"
	case errors.Is(err, ErrRoundAlreadyCrashed):
		return "round_already_crashed"
	case errors.Is(err, ErrNoActiveBet):
		return "no_active_bet"
	case errors.Is(err, ErrEntropyUnavailable):
		return "entropy_unavailable"
	case errors.Is(err, ErrBalanceStoreUnavailable):
		return "balance_store_unavailable"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}
