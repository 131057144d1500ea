package treasury

import (
	"context"
	"testing"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
	"github.com/stretchr/testify/require"
)

func TestHandleMaturityComputesNetAfterFee(t *testing.T) {
	tr := New(Config{FeeBps: 100, StartedAt: time.Now()}, nodeclient.NewFake())

	tr.handleMaturity(nodeclient.MaturityEvent{TxID: "tx1", GrossAmount: 10_000, BlockTime: time.Now()})

	select {
	case ev := <-tr.CoinbaseEvents():
		require.Equal(t, int64(10_000), ev.GrossAmount)
		require.Equal(t, int64(9_900), ev.NetAmount)
	default:
		t.Fatal("expected a coinbase event")
	}

	select {
	case rev := <-tr.RevenueEvents():
		require.Equal(t, int64(100), rev.PoolFee)
	default:
		t.Fatal("expected a revenue event")
	}
}

func TestHandleMaturityFiltersAncientCoinbases(t *testing.T) {
	started := time.Now()
	tr := New(Config{FeeBps: 100, StartedAt: started}, nodeclient.NewFake())

	tr.handleMaturity(nodeclient.MaturityEvent{TxID: "old", GrossAmount: 1000, BlockTime: started.Add(-48 * time.Hour)})

	select {
	case <-tr.CoinbaseEvents():
		t.Fatal("coinbase older than 24h before start must be filtered out")
	default:
	}
}

func TestHandleMaturityAllowsRecentPreStartCoinbase(t *testing.T) {
	started := time.Now()
	tr := New(Config{FeeBps: 100, StartedAt: started}, nodeclient.NewFake())

	tr.handleMaturity(nodeclient.MaturityEvent{TxID: "recent", GrossAmount: 1000, BlockTime: started.Add(-1 * time.Hour)})

	select {
	case ev := <-tr.CoinbaseEvents():
		require.Equal(t, "recent", ev.TxID)
	default:
		t.Fatal("coinbase newer than 24h before start should be processed for restart support")
	}
}

func TestSendFailsOnInsufficientFunds(t *testing.T) {
	node := nodeclient.NewFake()
	node.UTXOs = []nodeclient.UTXO{{Amount: 50}}
	tr := New(Config{FundingAddress: "kaspa:pool"}, node)

	_, err := tr.Send(context.Background(), []Output{{Address: "kaspa:miner1", Amount: 100}})
	require.Error(t, err)
}

func TestSendSucceedsAndReturnsTxIDs(t *testing.T) {
	node := nodeclient.NewFake()
	node.UTXOs = []nodeclient.UTXO{{Amount: 1000}}
	tr := New(Config{FundingAddress: "kaspa:pool"}, node)

	sent, err := tr.Send(context.Background(), []Output{{Address: "kaspa:miner1", Amount: 100}})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Contains(t, sent, "kaspa:miner1")
}

func TestSendReportsPartialSuccessOnMidBatchFailure(t *testing.T) {
	node := nodeclient.NewFake()
	node.UTXOs = []nodeclient.UTXO{{Amount: 150}}
	tr := New(Config{FundingAddress: "kaspa:pool"}, node)

	sent, err := tr.Send(context.Background(), []Output{
		{Address: "kaspa:miner1", Amount: 100},
		{Address: "kaspa:miner2", Amount: 100},
	})
	require.Error(t, err, "second output should fail: only 50 remains after the first spends from the same UTXO set")
	require.Len(t, sent, 1, "the first output must be reported as actually sent")
	require.Contains(t, sent, "kaspa:miner1")
	require.NotContains(t, sent, "kaspa:miner2")
}
