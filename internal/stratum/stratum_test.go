package stratum

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
	"github.com/chimera-pool/kaspa-pool-core/internal/templates"
	"github.com/stretchr/testify/require"
)

func TestSplitIdentityFirstDotOnly(t *testing.T) {
	address, worker, err := splitIdentity("kaspa:qrdxalpha.worker1.extra")
	require.NoError(t, err)
	require.Equal(t, "kaspa:qrdxalpha", address)
	require.Equal(t, "worker1.extra", worker)
}

func TestSplitIdentityMissingWorkerIsError(t *testing.T) {
	_, _, err := splitIdentity("kaspa:qrdxalpha")
	require.Error(t, err)
}

func TestDetectDialectBitmainFamilies(t *testing.T) {
	require.Equal(t, DialectBitmain, DetectDialect("GodMiner/1.0"))
	require.Equal(t, DialectBitmain, DetectDialect("Antminer KS3"))
	require.Equal(t, DialectStandard, DetectDialect("IceRiverMiner-v1.1"))
}

func TestSubscribeResponseShapes(t *testing.T) {
	std := NewSubscribeResponse(1, DialectStandard, "abcd")
	require.Equal(t, []interface{}{true, "EthereumStratum/1.0.0"}, std.Result)

	bm := NewSubscribeResponse(1, DialectBitmain, "abcd")
	require.Equal(t, []interface{}{nil, "abcd", 6}, bm.Result)
}

type fakeTemplateLookup struct {
	hash   [32]byte
	pow    templates.PoW
	submitHash string
	err    error
}

func (f *fakeTemplateLookup) GetHash(jobID uint16) ([32]byte, error) {
	if jobID != 0 {
		return [32]byte{}, templates.ErrJobNotFound
	}
	return f.hash, nil
}
func (f *fakeTemplateLookup) GetPoW(preHash [32]byte) (templates.PoW, error) {
	if preHash != f.hash {
		return nil, templates.ErrJobNotFound
	}
	return f.pow, nil
}
func (f *fakeTemplateLookup) Submit(ctx context.Context, preHash [32]byte, nonce []byte) (string, error) {
	return f.submitHash, f.err
}

type fakePoW struct {
	isBlock bool
	target  []byte
}

func (p *fakePoW) CheckWork(nonce []byte) (bool, []byte, error) { return p.isBlock, p.target, nil }
func (p *fakePoW) WithNonce(nonce []byte) []byte                { return nonce }

func TestHandleSubmitDuplicateShareSecondTime(t *testing.T) {
	lookup := &fakeTemplateLookup{
		hash: [32]byte{1},
		pow:  &fakePoW{isBlock: false, target: []byte{0x00, 0x01}},
	}
	srv := New(Config{StartDifficulty: bigrat.NewDifficulty(4096)}, lookup)

	sess, err := NewSession(&discardConn{}, bigrat.NewDifficulty(4096))
	require.NoError(t, err)
	sess.mu.Lock()
	sess.state = StateAuthorized
	sess.mu.Unlock()
	w := Worker{Address: "addr1", Name: "worker1"}
	sess.AddWorker(w)

	req := &Request{ID: 1, Method: "mining.submit", Params: []interface{}{"addr1.worker1", "0000", "deadbeef"}}

	resp1, evt1 := srv.handleSubmit(context.Background(), sess, nil, req)
	require.Nil(t, evt1)
	require.Nil(t, resp1.Error)

	resp2, evt2 := srv.handleSubmit(context.Background(), sess, nil, req)
	require.Nil(t, evt2)
	require.NotNil(t, resp2.Error)
	errArr, ok := resp2.Error.([]interface{})
	require.True(t, ok)
	require.Equal(t, CodeDuplicateShare, errArr[0])
}

func TestHandleSubmitUnauthorizedWorker(t *testing.T) {
	lookup := &fakeTemplateLookup{hash: [32]byte{1}, pow: &fakePoW{}}
	srv := New(Config{StartDifficulty: bigrat.NewDifficulty(4096)}, lookup)
	sess, err := NewSession(&discardConn{}, bigrat.NewDifficulty(4096))
	require.NoError(t, err)
	sess.mu.Lock()
	sess.state = StateAuthorized
	sess.mu.Unlock()

	req := &Request{ID: 1, Method: "mining.submit", Params: []interface{}{"addr1.worker1", "0000", "deadbeef"}}
	resp, evt := srv.handleSubmit(context.Background(), sess, nil, req)
	require.Nil(t, evt)
	errArr := resp.Error.([]interface{})
	require.Equal(t, CodeUnauthorizedWorker, errArr[0])
}

// discardConn is a minimal net.Conn stand-in for tests that never perform
// real I/O but need a Session.
type discardConn struct{}

func (discardConn) Read(b []byte) (int, error)         { return 0, nil }
func (discardConn) Write(b []byte) (int, error)        { return len(b), nil }
func (discardConn) Close() error                       { return nil }
func (discardConn) LocalAddr() net.Addr                { return nil }
func (discardConn) RemoteAddr() net.Addr               { return nil }
func (discardConn) SetDeadline(t time.Time) error      { return nil }
func (discardConn) SetReadDeadline(t time.Time) error  { return nil }
func (discardConn) SetWriteDeadline(t time.Time) error { return nil }
