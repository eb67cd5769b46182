package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
)

const (
	MinMultiplier = 1.00

	seedBytes = 32
)

// CrashPointFromSeed derives the crash multiplier for a round using
// HMAC-SHA256 keyed by the server seed over the round ID. The first 8 bytes
// of the digest become a uniform value in [0, 1), which is mapped through
// the house-edge-adjusted inverse distribution:
//
//	crash = floor(100 * (1 - houseEdge) / (1 - U)) / 100
//
// A draw below the house edge crashes instantly at 1.00x. The result is
// clamped to [MinMultiplier, maxMultiplier] and depends on nothing but the
// seed and the round ID, so anyone holding the revealed seed can recompute it.
func CrashPointFromSeed(serverSeed, roundID string, houseEdge, maxMultiplier float64) float64 {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(roundID))
	digest := h.Sum(nil)

	u := float64(binary.BigEndian.Uint64(digest[:8])) / float64(math.MaxUint64)

	if u < houseEdge {
		return MinMultiplier
	}

	crash := math.Floor(100*(1-houseEdge)/(1-u)) / 100

	if crash < MinMultiplier {
		return MinMultiplier
	}
	if crash > maxMultiplier {
		return maxMultiplier
	}
	return crash
}

// GenerateSeed returns a hex-encoded 32-byte seed from the system CSPRNG.
// A failed read means the round must not start.
func GenerateSeed() (string, error) {
	b := make([]byte, seedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return hex.EncodeToString(b), nil
}

// HashCommitment is the public commitment published before any bet is
// accepted: SHA-256 over serverSeed:roundID. The round ID doubles as the
// per-round nonce so identical seeds can never share a commitment.
func HashCommitment(serverSeed, roundID string) string {
	h := sha256.New()
	h.Write([]byte(serverSeed + ":" + roundID))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyCrashPoint recomputes a crash point from a revealed seed and reports
// whether it matches what the engine used.
func VerifyCrashPoint(serverSeed, roundID string, houseEdge, maxMultiplier, claimed float64) bool {
	return CrashPointFromSeed(serverSeed, roundID, houseEdge, maxMultiplier) == claimed
}

type commitment struct {
	serverSeed string
	seedHash   string
	crashPoint float64
	sealed     bool
}

// Fairness owns the commit/reveal lifecycle for round seeds. A seed is
// fixed and sealed at Commit time, before the betting window opens, and only
// becomes readable through Reveal after the orchestrator unseals it at the
// crash instant.
type Fairness struct {
	mu            sync.Mutex
	houseEdge     float64
	maxMultiplier float64
	commitments   map[string]*commitment
}

func NewFairness(houseEdge, maxMultiplier float64) *Fairness {
	return &Fairness{
		houseEdge:     houseEdge,
		maxMultiplier: maxMultiplier,
		commitments:   make(map[string]*commitment),
	}
}

// Commit fixes the server seed and crash point for roundID and returns the
// public commitment hash together with the (still secret) crash point.
// Called exactly once per round, server-side only.
func (f *Fairness) Commit(roundID string) (string, float64, error) {
	seed, err := GenerateSeed()
	if err != nil {
		return "", 0, err
	}

	c := &commitment{
		serverSeed: seed,
		seedHash:   HashCommitment(seed, roundID),
		crashPoint: CrashPointFromSeed(seed, roundID, f.houseEdge, f.maxMultiplier),
		sealed:     true,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.commitments[roundID]; ok {
		return "", 0, fmt.Errorf("round %s already committed", roundID)
	}
	f.commitments[roundID] = c
	return c.seedHash, c.crashPoint, nil
}

// Unseal marks the round's seed as revealable. The orchestrator calls this
// once the round has crashed; until then Reveal refuses to return the seed.
func (f *Fairness) Unseal(roundID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.commitments[roundID]; ok {
		c.sealed = false
	}
}

// Reveal returns the server seed for a crashed round.
func (f *Fairness) Reveal(roundID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commitments[roundID]
	if !ok {
		return "", fmt.Errorf("no commitment for round %s", roundID)
	}
	if c.sealed {
		return "", fmt.Errorf("round %s has not crashed yet", roundID)
	}
	return c.serverSeed, nil
}

// seedForAudit reads the seed regardless of seal state, for the durable
// audit record written at round start. The audit store serves it back only
// once the round is crashed.
func (f *Fairness) seedForAudit(roundID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.commitments[roundID]; ok {
		return c.serverSeed
	}
	return ""
}

// Forget drops the commitment for a finished round. The durable audit store
// keeps the revealed seed from then on.
func (f *Fairness) Forget(roundID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.commitments, roundID)
}

// HouseEdge returns the configured house edge, needed to re-derive crash
// points during verification.
func (f *Fairness) HouseEdge() float64 { return f.houseEdge }

// MaxMultiplier returns the configured crash-point ceiling.
func (f *Fairness) MaxMultiplier() float64 { return f.maxMultiplier }
