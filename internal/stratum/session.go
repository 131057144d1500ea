package stratum

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
	"github.com/google/uuid"
)

// State is the per-session protocol state machine (§4.C.2).
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StateAuthorized
)

// Worker identifies one authorized (address, worker-name) pair.
type Worker struct {
	Address string
	Name    string
}

// Session is one live miner connection. The StratumServer exclusively owns
// Sessions, per §3's ownership rule.
type Session struct {
	mu sync.Mutex

	conn        net.Conn
	id          string
	extranonce  string // 4 hex chars (2 bytes)
	dialect     Dialect
	userAgent   string
	difficulty  bigrat.Difficulty
	subscribed  bool
	state       State
	workers     map[Worker]struct{}
	connectedAt time.Time
	msgCount    int
	buf         []byte

	vardiff vardiffState
}

// vardiffState is the per-session controller state from §4.C.5.
type vardiffState struct {
	lastShareAt   time.Time
	lastChangeAt  time.Time
	shareCount    int
}

// NewSession allocates a Session with a fresh extranonce and starting
// difficulty, per §4.C.1 step 1.
func NewSession(conn net.Conn, startDifficulty bigrat.Difficulty) (*Session, error) {
	nonce, err := randomExtranonce()
	if err != nil {
		return nil, fmt.Errorf("generate extranonce: %w", err)
	}
	now := time.Now()
	return &Session{
		conn:        conn,
		id:          uuid.NewString(),
		extranonce:  nonce,
		dialect:     DialectStandard,
		difficulty:  startDifficulty,
		workers:     map[Worker]struct{}{},
		connectedAt: now,
		vardiff:     vardiffState{lastShareAt: now, lastChangeAt: now},
	}, nil
}

func randomExtranonce() (string, error) {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// writeLine writes an already-marshalled line to the socket. A write
// failure is fatal to the session per §5.
func (s *Session) writeLine(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Write(data)
	return err
}

func (s *Session) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *Session) AddWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w] = struct{}{}
}

func (s *Session) HasWorker(w Worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[w]
	return ok
}

func (s *Session) Difficulty() bigrat.Difficulty {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.difficulty
}

func (s *Session) SetDifficulty(d bigrat.Difficulty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.difficulty = d
}

func (s *Session) Dialect() Dialect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialect
}

// LatchDialect sets the dialect exactly once, at subscribe time (§8 testable
// property 3: dialect latching).
func (s *Session) LatchDialect(d Dialect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return
	}
	s.dialect = d
}

func (s *Session) Extranonce() string {
	return s.extranonce
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
