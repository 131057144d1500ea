package templates

import (
	"context"
	"testing"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/addr"
	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
	"github.com/stretchr/testify/require"
)

// syntheticPreHash builds a deterministic, distinct [32]byte pre-PoW hash
// per seed so tests don't rely on sparse magic byte arrays colliding by
// accident.
func syntheticPreHash(seed string) [32]byte {
	return addr.Fingerprint(seed)
}

type fakePoW struct {
	isBlock bool
	target  []byte
}

func (f *fakePoW) CheckWork(nonce []byte) (bool, []byte, error) { return f.isBlock, f.target, nil }
func (f *fakePoW) WithNonce(nonce []byte) []byte                { return append([]byte("header"), nonce...) }

func newTestManager(node *nodeclient.Fake) *Manager {
	factory := func(tpl *nodeclient.BlockTemplate) (PoW, error) {
		return &fakePoW{}, nil
	}
	return New(node, factory, "kaspa:qpooladdress", []byte("pool-id"), 3)
}

func TestRegisterFetchesInitialTemplateBeforeAnyConnect(t *testing.T) {
	node := nodeclient.NewFake()
	node.Template = &nodeclient.BlockTemplate{PreHash: syntheticPreHash("tpl-initial"), Timestamp: time.Now()}

	mgr := newTestManager(node)
	var got []Announcement
	err := mgr.Register(context.Background(), func(a Announcement) { got = append(got, a) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint16(0), got[0].JobID)
}

func TestWindowEvictsOldestJobFIFO(t *testing.T) {
	node := nodeclient.NewFake()
	node.Template = &nodeclient.BlockTemplate{PreHash: [32]byte{0}, Timestamp: time.Now()}
	mgr := newTestManager(node)

	var anns []Announcement
	require.NoError(t, mgr.Register(context.Background(), func(a Announcement) { anns = append(anns, a) }))

	for i := byte(1); i <= 3; i++ {
		node.PushTemplate(&nodeclient.BlockTemplate{PreHash: [32]byte{i}, Timestamp: time.Now()})
	}
	require.Eventually(t, func() bool { return len(anns) == 4 }, time.Second, time.Millisecond)

	_, err := mgr.GetHash(anns[0].JobID)
	require.ErrorIs(t, err, ErrJobNotFound, "oldest job should have been evicted once window exceeded")

	_, err = mgr.GetHash(anns[len(anns)-1].JobID)
	require.NoError(t, err)
}

func TestSubmitUnknownPreHashFails(t *testing.T) {
	node := nodeclient.NewFake()
	mgr := newTestManager(node)
	_, err := mgr.Submit(context.Background(), [32]byte{9, 9}, []byte{0xde, 0xad})
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestSubmitReturnsNodeCanonicalHash(t *testing.T) {
	node := nodeclient.NewFake()
	node.Template = &nodeclient.BlockTemplate{PreHash: syntheticPreHash("tpl-submit"), Timestamp: time.Now()}
	mgr := newTestManager(node)

	var ann Announcement
	require.NoError(t, mgr.Register(context.Background(), func(a Announcement) { ann = a }))

	node.Blocks["686561646572dead"] = &nodeclient.Block{Hash: "canonical-hash"}
	hash, err := mgr.Submit(context.Background(), ann.PreHash, []byte{0xde, 0xad})
	require.NoError(t, err)
	require.Equal(t, "canonical-hash", hash)
}
