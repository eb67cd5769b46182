package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix = "maniafly:balance:"
	idemKeyPrefix    = "maniafly:idem:"

	// Idempotency markers outlive any reasonable retry window.
	idemTTL = 24 * time.Hour
)

// Balance check, debit and idempotency marker in one script so a concurrent
// crash settlement can never observe a half-applied debit. A replayed key
// returns the recorded outcome without touching the balance again.
var debitScript = redis.NewScript(`
local prior = redis.call("GET", KEYS[2])
if prior then
    return prior
end
local balance = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if balance < amount then
    return "insufficient"
end
redis.call("INCRBYFLOAT", KEYS[1], "-" .. ARGV[1])
redis.call("SET", KEYS[2], "ok", "EX", ARGV[2])
return "ok"
`)

var creditScript = redis.NewScript(`
local prior = redis.call("GET", KEYS[2])
if prior then
    return prior
end
redis.call("INCRBYFLOAT", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], "ok", "EX", ARGV[2])
return "ok"
`)

// Redis implements Store on a Redis balance ledger, the same keyspace the
// rest of the platform reads.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Debit(ctx context.Context, playerID string, amount float64, idempotencyKey string) error {
	keys := []string{balanceKeyPrefix + playerID, idemKeyPrefix + idempotencyKey}
	res, err := debitScript.Run(ctx, r.client, keys, amount, int(idemTTL.Seconds())).Text()
	if err != nil {
		return fmt.Errorf("%w: debit %s: %v", ErrUnavailable, playerID, err)
	}
	if res == "insufficient" {
		return ErrInsufficientFunds
	}
	return nil
}

func (r *Redis) Credit(ctx context.Context, playerID string, amount float64, idempotencyKey string) error {
	keys := []string{balanceKeyPrefix + playerID, idemKeyPrefix + idempotencyKey}
	if _, err := creditScript.Run(ctx, r.client, keys, amount, int(idemTTL.Seconds())).Text(); err != nil {
		return fmt.Errorf("%w: credit %s: %v", ErrUnavailable, playerID, err)
	}
	return nil
}

func (r *Redis) Balance(ctx context.Context, playerID string) (float64, error) {
	balance, err := r.client.Get(ctx, balanceKeyPrefix+playerID).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: balance %s: %v", ErrUnavailable, playerID, err)
	}
	return balance, nil
}

func (r *Redis) SetBalance(ctx context.Context, playerID string, amount float64) error {
	if err := r.client.Set(ctx, balanceKeyPrefix+playerID, amount, 0).Err(); err != nil {
		return fmt.Errorf("%w: set balance %s: %v", ErrUnavailable, playerID, err)
	}
	return nil
}
