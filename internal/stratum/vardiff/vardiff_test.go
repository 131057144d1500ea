package vardiff

import (
	"testing"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MinDifficulty:   64,
		MaxDifficulty:   1 << 20,
		TargetTime:      10,
		VariancePercent: 30,
		MaxChange:       2,
		ChangeInterval:  60,
	}
}

func TestRecordShareSkipsBeforeTwoShares(t *testing.T) {
	start := time.Now()
	tr := NewTracker(testConfig(), bigrat.NewDifficulty(4096), start)

	_, changed := tr.RecordShare(start.Add(1 * time.Second))
	require.False(t, changed, "first share must never trigger an adjustment (shareCount<2)")
}

func TestRecordShareSkipsWithinChangeInterval(t *testing.T) {
	start := time.Now()
	tr := NewTracker(testConfig(), bigrat.NewDifficulty(4096), start)
	tr.RecordShare(start.Add(1 * time.Second))
	_, changed := tr.RecordShare(start.Add(2 * time.Second))
	require.False(t, changed, "changeInterval of 60s has not elapsed")
}

func TestRecordShareIncreasesDifficultyWhenSharesArriveFast(t *testing.T) {
	start := time.Now()
	tr := NewTracker(testConfig(), bigrat.NewDifficulty(4096), start)
	tr.RecordShare(start.Add(60 * time.Second))

	now := start.Add(65 * time.Second)
	newDiff, changed := tr.RecordShare(now)
	require.True(t, changed)
	require.Equal(t, 1, newDiff.Cmp(bigrat.NewDifficulty(4096)), "fast arrivals should raise difficulty")
}

func TestRecordShareNeverLeavesConfiguredBounds(t *testing.T) {
	cfg := testConfig()
	start := time.Now()
	tr := NewTracker(cfg, bigrat.NewDifficulty(100), start)

	now := start
	for i := 0; i < 50; i++ {
		now = now.Add(61 * time.Second)
		// Alternate extremely fast and extremely slow arrivals to stress
		// both branches of the adjustment formula.
		if i%2 == 0 {
			now = now.Add(-60500 * time.Millisecond)
		}
		diff, _ := tr.RecordShare(now)
		require.GreaterOrEqual(t, diff.Float64(), cfg.MinDifficulty)
		require.LessOrEqual(t, diff.Float64(), cfg.MaxDifficulty)
	}
}

func TestRecordShareBelowFivePercentThresholdDoesNotApply(t *testing.T) {
	cfg := testConfig()
	cfg.VariancePercent = 0.001
	cfg.MaxChange = 1.001
	start := time.Now()
	tr := NewTracker(cfg, bigrat.NewDifficulty(4096), start)
	tr.RecordShare(start.Add(1 * time.Second))

	_, changed := tr.RecordShare(start.Add(301 * time.Second))
	require.False(t, changed, "sub-5%% candidate changes must not apply")
}
