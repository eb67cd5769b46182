package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRoundNotFound = errors.New("store: round not found")

// Postgres persists rounds and bets through a pgx pool. Schema lives in
// migrations/.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateRound(ctx context.Context, r Round) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rounds (round_id, seed_hash, server_seed, crash_point, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (round_id) DO NOTHING`,
		r.ID, r.SeedHash, r.ServerSeed, r.CrashPoint, string(RoundPlaying), r.StartedAt)
	if err != nil {
		return fmt.Errorf("create round %s: %w", r.ID, err)
	}
	return nil
}

func (p *Postgres) MarkRoundCrashed(ctx context.Context, roundID string, crashedAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE rounds SET status = $2, crashed_at = $3 WHERE round_id = $1`,
		roundID, string(RoundCrashed), crashedAt)
	if err != nil {
		return fmt.Errorf("mark round %s crashed: %w", roundID, err)
	}
	return nil
}

func (p *Postgres) MarkRoundVoided(ctx context.Context, roundID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE rounds SET status = $2 WHERE round_id = $1`,
		roundID, string(RoundVoided))
	if err != nil {
		return fmt.Errorf("mark round %s voided: %w", roundID, err)
	}
	return nil
}

func (p *Postgres) OpenRounds(ctx context.Context) ([]Round, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT round_id, seed_hash, server_seed, crash_point, status, started_at,
		       COALESCE(crashed_at, 'epoch'::timestamptz)
		FROM rounds WHERE status = $1`, string(RoundPlaying))
	if err != nil {
		return nil, fmt.Errorf("open rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		var r Round
		var status string
		if err := rows.Scan(&r.ID, &r.SeedHash, &r.ServerSeed, &r.CrashPoint, &status, &r.StartedAt, &r.CrashedAt); err != nil {
			return nil, fmt.Errorf("scan open round: %w", err)
		}
		r.Status = RoundStatus(status)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (p *Postgres) GetRound(ctx context.Context, roundID string) (Round, error) {
	var r Round
	var status string
	err := p.pool.QueryRow(ctx, `
		SELECT round_id, seed_hash, server_seed, crash_point, status, started_at,
		       COALESCE(crashed_at, 'epoch'::timestamptz)
		FROM rounds WHERE round_id = $1`, roundID).
		Scan(&r.ID, &r.SeedHash, &r.ServerSeed, &r.CrashPoint, &status, &r.StartedAt, &r.CrashedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Round{}, ErrRoundNotFound
	}
	if err != nil {
		return Round{}, fmt.Errorf("get round %s: %w", roundID, err)
	}
	r.Status = RoundStatus(status)
	return r, nil
}

func (p *Postgres) RecordBets(ctx context.Context, bets []Bet) error {
	if len(bets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bets {
		batch.Queue(`
			INSERT INTO bets (bet_id, round_id, player_id, amount, status,
			                  cashout_multiplier, payout, placed_at, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (bet_id) DO UPDATE SET
				status = EXCLUDED.status,
				cashout_multiplier = EXCLUDED.cashout_multiplier,
				payout = EXCLUDED.payout,
				settled_at = EXCLUDED.settled_at`,
			b.ID, b.RoundID, b.PlayerID, b.Amount, b.Status,
			b.CashoutMultiplier, b.Payout, b.PlacedAt, b.SettledAt)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range bets {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record bets: %w", err)
		}
	}
	return nil
}
