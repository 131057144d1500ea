package pool

import (
	"context"
	"testing"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
	"github.com/chimera-pool/kaspa-pool-core/internal/store"
	"github.com/chimera-pool/kaspa-pool-core/internal/stratum"
	"github.com/chimera-pool/kaspa-pool-core/internal/treasury"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*Pool, *store.Store, *nodeclient.Fake) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	node := nodeclient.NewFake()
	tr := treasury.New(treasury.Config{FundingAddress: "kaspa:pool", StartedAt: time.Now()}, node)
	p := New(Config{DefaultPaymentThreshold: 1000}, st, node, tr)
	return p, st, node
}

func TestRecordBlockPersistsAndIncrementsFinderCount(t *testing.T) {
	p, st, node := newTestPool(t)
	node.Blocks["hash1"] = &nodeclient.Block{Hash: "hash1", DAAScore: 42}

	ev := stratum.BlockEvent{
		Hash:             "hash1",
		Finder:           "minerA",
		FinderDifficulty: "4096",
		Timestamp:        time.Now(),
		Contributions:    []stratum.Contribution{{Address: "minerA", Difficulty: "4096"}},
	}
	require.NoError(t, p.RecordBlock(context.Background(), ev))

	rec, found, err := st.GetBlock("hash1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(42), rec.DAAScore)
	require.False(t, rec.Paid)

	miner, err := st.GetMiner("minerA")
	require.NoError(t, err)
	require.Equal(t, int64(1), miner.BlocksFound)

	p.mu.Lock()
	require.Len(t, p.pending, 1)
	p.mu.Unlock()
}

func TestRecordBlockRejectsOrphan(t *testing.T) {
	p, st, _ := newTestPool(t)

	ev := stratum.BlockEvent{Hash: "missing", Finder: "minerA", Timestamp: time.Now()}
	require.NoError(t, p.RecordBlock(context.Background(), ev))

	_, found, err := st.GetBlock("missing")
	require.NoError(t, err)
	require.False(t, found, "orphaned block must not be persisted")

	p.mu.Lock()
	require.Len(t, p.pending, 0)
	p.mu.Unlock()
}

// TestDistributePPLNSProportionality covers testable property 6 and seed
// scenario S3: two blocks with different contributor sets, folded until
// the first blue block, split proportional to work.
func TestDistributePPLNSProportionality(t *testing.T) {
	p, st, node := newTestPool(t)
	node.Blocks["h1"] = &nodeclient.Block{Hash: "h1", DAAScore: 1}
	node.Blocks["h2"] = &nodeclient.Block{Hash: "h2", DAAScore: 2}
	node.Colors["h1"] = nodeclient.ColorRed
	node.Colors["h2"] = nodeclient.ColorBlue

	require.NoError(t, st.AddBlock(store.Block{
		Hash: "h1", Finder: "A", Timestamp: time.Now().Add(-time.Minute),
		Contributions: []store.Contribution{{Address: "A", Difficulty: "1000"}, {Address: "B", Difficulty: "1000"}},
	}))
	require.NoError(t, st.AddBlock(store.Block{
		Hash: "h2", Finder: "A", Timestamp: time.Now(),
		Contributions: []store.Contribution{{Address: "A", Difficulty: "3000"}, {Address: "B", Difficulty: "1000"}},
	}))
	require.NoError(t, p.restorePending(context.Background()))

	p.mu.Lock()
	hashes, shares, err := p.distributeLocked(context.Background(), 10000, node)
	p.mu.Unlock()
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "h2"}, hashes, "fold must stop after the first blue block")

	// total work: A=4000, B=2000, total=6000 -> A gets 2/3, B gets 1/3
	require.Equal(t, int64(6666), shares["A"])
	require.Equal(t, int64(3333), shares["B"])
}

func TestDistributeCreditsBalanceWhenBelowThreshold(t *testing.T) {
	p, st, node := newTestPool(t)
	node.Blocks["h1"] = &nodeclient.Block{Hash: "h1", DAAScore: 1}
	node.Colors["h1"] = nodeclient.ColorBlue
	require.NoError(t, st.AddBlock(store.Block{
		Hash: "h1", Finder: "A", Timestamp: time.Now(),
		Contributions: []store.Contribution{{Address: "A", Difficulty: "1000"}},
	}))
	require.NoError(t, p.restorePending(context.Background()))

	payments, err := p.Distribute(context.Background(), 500)
	require.NoError(t, err)
	require.Empty(t, payments, "below-threshold balance should be credited, not paid out")

	miner, err := st.GetMiner("A")
	require.NoError(t, err)
	require.Equal(t, int64(500), miner.Balance)

	rec, found, err := st.GetBlock("h1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, rec.Paid)
}

func TestDistributePaysOutAboveThresholdAndMarksBlockPaid(t *testing.T) {
	p, st, node := newTestPool(t)
	node.Blocks["h1"] = &nodeclient.Block{Hash: "h1", DAAScore: 1}
	node.Colors["h1"] = nodeclient.ColorBlue
	node.UTXOs = []nodeclient.UTXO{{Amount: 1_000_000}}
	require.NoError(t, st.AddBlock(store.Block{
		Hash: "h1", Finder: "A", Timestamp: time.Now(),
		Contributions: []store.Contribution{{Address: "A", Difficulty: "1000"}},
	}))
	require.NoError(t, p.restorePending(context.Background()))

	payments, err := p.Distribute(context.Background(), 2000)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, store.PaymentSent, payments[0].Status)

	miner, err := st.GetMiner("A")
	require.NoError(t, err)
	require.Equal(t, int64(0), miner.Balance, "paid-out balance must be zeroed")
}

func TestDistributeRestoresBalanceOnSendFailure(t *testing.T) {
	p, st, node := newTestPool(t)
	node.Blocks["h1"] = &nodeclient.Block{Hash: "h1", DAAScore: 1}
	node.Colors["h1"] = nodeclient.ColorBlue
	node.UTXOs = []nodeclient.UTXO{{Amount: 10}} // insufficient for the payout
	require.NoError(t, st.AddBlock(store.Block{
		Hash: "h1", Finder: "A", Timestamp: time.Now(),
		Contributions: []store.Contribution{{Address: "A", Difficulty: "1000"}},
	}))
	require.NoError(t, p.restorePending(context.Background()))

	_, err := p.Distribute(context.Background(), 2000)
	require.Error(t, err)

	miner, err := st.GetMiner("A")
	require.NoError(t, err)
	require.Equal(t, int64(2000), miner.Balance, "balance must be restored after a failed send")
}

func TestRestorePendingNoopWhenNotEmpty(t *testing.T) {
	p, st, _ := newTestPool(t)
	require.NoError(t, st.AddBlock(store.Block{Hash: "h1", Timestamp: time.Now()}))

	p.mu.Lock()
	p.pending = []pendingBlock{{hash: "preexisting"}}
	p.mu.Unlock()

	require.NoError(t, p.restorePending(context.Background()))

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.pending, 1)
	require.Equal(t, "preexisting", p.pending[0].hash)
}

func TestForcePayoutAllFailsWhenTreasuryShort(t *testing.T) {
	p, st, node := newTestPool(t)
	require.NoError(t, st.AddBalance("A", 5000))
	require.NoError(t, st.AddBalance("B", 5000))
	node.UTXOs = []nodeclient.UTXO{{Amount: 100}}

	_, err := p.ForcePayoutAll(context.Background())
	require.Error(t, err)
}
