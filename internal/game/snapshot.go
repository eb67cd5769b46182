package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix = "maniafly:bets:active:"
	snapshotTTL       = 10 * time.Minute
)

// SnapshotEntry is the minimal durable record of an in-flight bet, enough
// for a restarted process to refund it if the round has to be voided.
type SnapshotEntry struct {
	BetID     string  `json:"bet_id"`
	PlayerID  string  `json:"player_id"`
	Amount    float64 `json:"amount"`
	CashedOut bool    `json:"cashed_out"`
}

// Snapshots stores the active bets of open rounds outside the process, so a
// crash mid-round does not strand player stakes.
type Snapshots interface {
	Put(ctx context.Context, roundID string, entry SnapshotEntry) error
	Entries(ctx context.Context, roundID string) ([]SnapshotEntry, error)
	Delete(ctx context.Context, roundID string) error
}

// RedisSnapshots keeps one hash per round, field per bet.
type RedisSnapshots struct {
	client *redis.Client
}

func NewRedisSnapshots(client *redis.Client) *RedisSnapshots {
	return &RedisSnapshots{client: client}
}

func (s *RedisSnapshots) Put(ctx context.Context, roundID string, entry SnapshotEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := snapshotKeyPrefix + roundID
	if err := s.client.HSet(ctx, key, entry.BetID, data).Err(); err != nil {
		return fmt.Errorf("snapshot put: %w", err)
	}
	return s.client.Expire(ctx, key, snapshotTTL).Err()
}

func (s *RedisSnapshots) Entries(ctx context.Context, roundID string) ([]SnapshotEntry, error) {
	fields, err := s.client.HGetAll(ctx, snapshotKeyPrefix+roundID).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	entries := make([]SnapshotEntry, 0, len(fields))
	for _, raw := range fields {
		var e SnapshotEntry
		if json.Unmarshal([]byte(raw), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *RedisSnapshots) Delete(ctx context.Context, roundID string) error {
	return s.client.Del(ctx, snapshotKeyPrefix+roundID).Err()
}

// MemorySnapshots is the in-process equivalent, for tests and local runs.
type MemorySnapshots struct {
	mu     sync.Mutex
	rounds map[string]map[string]SnapshotEntry
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{rounds: make(map[string]map[string]SnapshotEntry)}
}

func (s *MemorySnapshots) Put(_ context.Context, roundID string, entry SnapshotEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rounds[roundID] == nil {
		s.rounds[roundID] = make(map[string]SnapshotEntry)
	}
	s.rounds[roundID][entry.BetID] = entry
	return nil
}

func (s *MemorySnapshots) Entries(_ context.Context, roundID string) ([]SnapshotEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]SnapshotEntry, 0, len(s.rounds[roundID]))
	for _, e := range s.rounds[roundID] {
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MemorySnapshots) Delete(_ context.Context, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, roundID)
	return nil
}
