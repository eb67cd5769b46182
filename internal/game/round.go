package game

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhasePlaying Phase = "playing"
	PhaseCrashed Phase = "crashed"
)

// Round is one play cycle. Values of this type are immutable once published:
// the orchestrator is the only writer and swaps in a fresh copy on every
// phase change, so request handlers always read a consistent snapshot.
type Round struct {
	ID            string
	Phase         Phase
	SeedHash      string
	CrashPoint    float64 // secret until the round crashes
	StartedAt     time.Time
	BettingEndsAt time.Time
}

// withPhase returns a copy of the round in the given phase.
func (r *Round) withPhase(p Phase) *Round {
	next := *r
	next.Phase = p
	return &next
}

// History is the bounded ring of recent crash points, display only.
type History struct {
	mu     sync.Mutex
	max    int
	points []float64
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 1
	}
	return &History{max: max}
}

// Push appends a crash point, evicting the oldest entry past capacity.
func (h *History) Push(crashPoint float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = append(h.points, crashPoint)
	if len(h.points) > h.max {
		h.points = h.points[len(h.points)-h.max:]
	}
}

// Points returns the recorded crash points, newest last.
func (h *History) Points() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]float64, len(h.points))
	copy(out, h.points)
	return out
}
