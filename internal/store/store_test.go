package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMinerMissingReturnsZeroValue(t *testing.T) {
	s := newTestStore(t)
	m, err := s.GetMiner("unknown")
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Balance)
	require.Equal(t, "unknown", m.Address)
}

func TestAddBalanceAccumulates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBalance("alice", 100))
	require.NoError(t, s.AddBalance("alice", 50))
	m, err := s.GetMiner("alice")
	require.NoError(t, err)
	require.Equal(t, int64(150), m.Balance)
}

func TestAddBalanceRejectsNegativeResult(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBalance("alice", 100))
	err := s.AddBalance("alice", -200)
	require.Error(t, err)
	var negErr *ErrNegativeBalance
	require.ErrorAs(t, err, &negErr)

	m, err := s.GetMiner("alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), m.Balance, "rejected write must not mutate balance")
}

func TestGetAllMinersExcludesRevenueKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddBalance("alice", 10))
	require.NoError(t, s.AddBalance(RevenueKey, 5))

	miners, err := s.GetAllMiners()
	require.NoError(t, err)
	require.Len(t, miners, 1)
	require.Equal(t, "alice", miners[0].Address)
}

func TestAddBlockIsIdempotentOnHash(t *testing.T) {
	s := newTestStore(t)
	rec := Block{Hash: "h1", Finder: "alice", Timestamp: time.Now(), Paid: false,
		Contributions: []Contribution{{Address: "alice", Difficulty: "100"}}}
	require.NoError(t, s.AddBlock(rec))

	rec.Paid = true
	rec.Contributions = append(rec.Contributions, Contribution{Address: "bob", Difficulty: "50"})
	require.NoError(t, s.AddBlock(rec))

	got, found, err := s.GetBlock("h1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Paid)
	require.Len(t, got.Contributions, 2)
}

func TestGetUnpaidBlocksExcludesPaid(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.AddBlock(Block{Hash: "h1", Timestamp: now, Paid: false}))
	require.NoError(t, s.AddBlock(Block{Hash: "h2", Timestamp: now.Add(time.Second), Paid: true}))

	unpaid, err := s.GetUnpaidBlocks()
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	require.Equal(t, "h1", unpaid[0].Hash)
}

func TestPaymentLifecycle(t *testing.T) {
	s := newTestStore(t)
	p := Payment{ID: "tx1", Address: "alice", Amount: 100, Status: PaymentFailed, BalanceBefore: 100, Timestamp: time.Now()}
	require.NoError(t, s.AddPayment(p))
	require.NoError(t, s.UpdatePayment("tx1", PaymentRestored))
}
