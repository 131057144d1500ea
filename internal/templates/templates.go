// Package templates implements the rolling window of block templates, job
// ID assignment, and the submission bridge to the node. No direct teacher
// equivalent exists (the teacher's job-building is Bitcoin-coinbase
// shaped); the control-flow idiom — fetch on register, admit on stream
// event, broadcast on change — is grounded on cmd/stratum/main.go's
// blockTemplateUpdater/broadcastJob ticker-and-fan-out loop, generalized
// to Kaspa's opaque-template model where the header is never rebuilt
// locally.
package templates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
)

// PoW is the proof-of-work verifier consumed as a primitive per the stated
// non-goal: this package never validates PoW itself.
type PoW interface {
	// CheckWork reports whether nonce produces a block, and the target it
	// achieved (for difficulty comparison).
	CheckWork(nonce []byte) (isBlock bool, target []byte, err error)
	// WithNonce returns the header bytes with nonce set, ready to submit.
	WithNonce(nonce []byte) []byte
}

// PoWFactory builds verifier state for a freshly admitted template.
type PoWFactory func(tpl *nodeclient.BlockTemplate) (PoW, error)

type entry struct {
	preHash   [32]byte
	jobID     uint16
	pow       PoW
	header    []byte
	timestamp time.Time
}

// Announcement is delivered to onAnnounce on each newly admitted template.
type Announcement struct {
	JobID     uint16
	PreHash   [32]byte
	Timestamp time.Time
	Header    []byte
}

// Manager owns the template window and job map exclusively.
type Manager struct {
	mu       sync.RWMutex
	window   int
	nextJob  uint16
	byJob    map[uint16]*entry
	byHash   map[[32]byte]*entry
	order    []uint16 // FIFO eviction order

	node    nodeclient.Client
	newPoW  PoWFactory
	payAddr string
	extra   []byte
}

// New constructs a Manager with the given window bound (default applied by
// caller via config).
func New(node nodeclient.Client, newPoW PoWFactory, payAddr string, extra []byte, window int) *Manager {
	if window <= 0 {
		window = 40
	}
	return &Manager{
		window:  window,
		byJob:   map[uint16]*entry{},
		byHash:  map[[32]byte]*entry{},
		node:    node,
		newPoW:  newPoW,
		payAddr: payAddr,
		extra:   extra,
	}
}

// Register subscribes to the node's new-template stream and immediately
// fetches one template so at least one job exists before any miner
// connects.
func (m *Manager) Register(ctx context.Context, onAnnounce func(Announcement)) error {
	stream, err := m.node.SubscribeNewBlockTemplate(ctx, m.payAddr)
	if err != nil {
		return fmt.Errorf("subscribe new block template: %w", err)
	}

	initial, err := m.node.GetBlockTemplate(ctx, m.payAddr, m.extra)
	if err != nil {
		return fmt.Errorf("initial block template fetch: %w", err)
	}
	if ann, ok := m.admit(initial); ok {
		onAnnounce(ann)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tpl, ok := <-stream:
				if !ok {
					return
				}
				if ann, ok := m.admit(tpl); ok {
					onAnnounce(ann)
				}
			}
		}
	}()

	return nil
}

func (m *Manager) admit(tpl *nodeclient.BlockTemplate) (Announcement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[tpl.PreHash]; exists {
		return Announcement{}, false
	}

	pow, err := m.newPoW(tpl)
	if err != nil {
		return Announcement{}, false
	}

	jobID := m.nextJob
	m.nextJob++

	e := &entry{preHash: tpl.PreHash, jobID: jobID, pow: pow, header: tpl.Header, timestamp: tpl.Timestamp}
	m.byJob[jobID] = e
	m.byHash[tpl.PreHash] = e
	m.order = append(m.order, jobID)

	for len(m.order) > m.window {
		oldest := m.order[0]
		m.order = m.order[1:]
		if old, ok := m.byJob[oldest]; ok {
			delete(m.byJob, oldest)
			delete(m.byHash, old.preHash)
		}
	}

	return Announcement{JobID: jobID, PreHash: tpl.PreHash, Timestamp: tpl.Timestamp, Header: tpl.Header}, true
}

// ErrJobNotFound is returned by GetHash/GetPoW for an expired or unknown
// job/hash.
var ErrJobNotFound = fmt.Errorf("job-not-found")

// GetHash resolves a job ID to its pre-PoW hash.
func (m *Manager) GetHash(jobID uint16) ([32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byJob[jobID]
	if !ok {
		return [32]byte{}, ErrJobNotFound
	}
	return e.preHash, nil
}

// GetPoW resolves a pre-PoW hash to its verifier state.
func (m *Manager) GetPoW(preHash [32]byte) (PoW, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byHash[preHash]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.pow, nil
}

// ErrBlockSubmissionFailed wraps a node-reported IBD or full-route refusal.
var ErrBlockSubmissionFailed = fmt.Errorf("block-submission-failed")

// Submit finalizes the template with nonce, submits it to the node, then
// resolves the node-canonical block hash it recorded (falling back to the
// locally finalized header hash on query failure).
func (m *Manager) Submit(ctx context.Context, preHash [32]byte, nonce []byte) (string, error) {
	m.mu.RLock()
	e, ok := m.byHash[preHash]
	m.mu.RUnlock()
	if !ok {
		return "", ErrJobNotFound
	}

	header := e.pow.WithNonce(nonce)
	if err := m.node.SubmitBlock(ctx, header, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlockSubmissionFailed, err)
	}

	localHash := fmt.Sprintf("%x", header)

	time.Sleep(500 * time.Millisecond)
	blk, err := m.node.GetBlock(ctx, localHash)
	if err != nil || blk == nil {
		return localHash, nil
	}
	return blk.Hash, nil
}
