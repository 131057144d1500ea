// Package vardiff implements the per-session variable-difficulty
// controller of §4.C.5. The Manager/Tracker shape — a Config plus
// per-session running state updated on every accepted share — is grounded
// on the teacher's internal/stratum/vardiff/vardiff.go Manager; the
// formulas implemented here are the design's exact ones (minTarget/
// maxTarget window, maxChange-capped ratio, 300s-capped smooth ramp-down,
// 5% application threshold), not the teacher's weighted-median/deadband
// algorithm.
package vardiff

import (
	"math"
	"sync"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
)

// Config holds the tunable vardiff parameters from §6's config table.
type Config struct {
	MinDifficulty   float64
	MaxDifficulty   float64
	TargetTime      float64 // seconds
	VariancePercent float64
	MaxChange       float64 // multiplicative bound
	ChangeInterval  float64 // seconds
}

// Tracker holds the mutable per-session state: lastShareAt, lastChangeAt,
// currentDifficulty, shareCount.
type Tracker struct {
	mu sync.Mutex

	cfg Config

	lastShareAt  time.Time
	lastChangeAt time.Time
	current      bigrat.Difficulty
	shareCount   int
}

// NewTracker seeds a Tracker with a starting difficulty, typically either
// the pool-wide default or a hardware-classified seed (see
// stratum.SeedDifficulty).
func NewTracker(cfg Config, start bigrat.Difficulty, now time.Time) *Tracker {
	return &Tracker{
		cfg:          cfg,
		lastShareAt:  now,
		lastChangeAt: now,
		current:      start,
	}
}

// RecordShare runs the §4.C.5 adjustment step for a newly accepted share at
// time now. It returns the session's current difficulty and whether this
// call changed it (callers push mining.set_difficulty only when changed).
func (t *Tracker) RecordShare(now time.Time) (bigrat.Difficulty, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := now.Sub(t.lastShareAt).Seconds()
	t.shareCount++
	t.lastShareAt = now

	if now.Sub(t.lastChangeAt).Seconds() < t.cfg.ChangeInterval || t.shareCount < 2 {
		return t.current, false
	}
	if delta <= 0 {
		return t.current, false
	}

	minTarget := t.cfg.TargetTime * (1 - t.cfg.VariancePercent/100)
	maxTarget := t.cfg.TargetTime * (1 + t.cfg.VariancePercent/100)

	var candidate bigrat.Difficulty
	adjust := false

	switch {
	case delta < minTarget:
		factor := math.Min(t.cfg.TargetTime/delta, t.cfg.MaxChange)
		candidate = t.current.Mul(factor)
		adjust = true
	case delta > maxTarget:
		capped := math.Min(delta, 300)
		w := capped / 300
		factor := math.Max(t.cfg.TargetTime/delta, 1/t.cfg.MaxChange) * w
		candidate = t.current.Mul(factor)
		adjust = true
	}

	if !adjust {
		return t.current, false
	}

	clamped := candidate.Clamp(bigrat.NewDifficultyFromFloat(t.cfg.MinDifficulty), bigrat.NewDifficultyFromFloat(t.cfg.MaxDifficulty))

	if bigrat.FractionalChange(t.current, clamped) <= 0.05 {
		return t.current, false
	}

	t.current = clamped
	t.lastChangeAt = now
	return t.current, true
}

// Current returns the tracker's current difficulty without mutating state.
func (t *Tracker) Current() bigrat.Difficulty {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
