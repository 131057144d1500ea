// Package stratum implements the TCP Stratum session engine: connection
// lifecycle, dialect detection, the protocol state machine, share
// validation, vardiff, and job fan-out (§4.C). Grounded on the teacher's
// internal/stratum/server.go (accept-loop/session shape) and
// connection_manager.go (sharded registry, idle reaping), generalized from
// a "subscribe-authorize, accept everything" stub to the full state
// machine and validation pipeline the design mandates.
package stratum

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/addr"
	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
	"github.com/chimera-pool/kaspa-pool-core/internal/stratum/vardiff"
	"github.com/chimera-pool/kaspa-pool-core/internal/templates"
)

const (
	idleTimeout    = 30 * time.Second
	bufferCeiling  = 8 * 1024
	rateLimitPerSec = 100
	rateLimitBurst  = 10
	malformedLimit  = 10
)

// BlockEvent is emitted when a share proves to be a full block. The
// orchestrator (Pool) consumes this over a channel rather than sharing
// mutable state with Stratum directly, per §3's ownership rule and §9's
// typed-channel coupling guidance.
type BlockEvent struct {
	Hash            string
	Finder          string
	FinderDifficulty string
	Timestamp       time.Time
	Contributions   []Contribution
}

// TemplateLookup is the subset of templates.Manager the share-validation
// path needs.
type TemplateLookup interface {
	GetHash(jobID uint16) ([32]byte, error)
	GetPoW(preHash [32]byte) (templates.PoW, error)
	Submit(ctx context.Context, preHash [32]byte, nonce []byte) (string, error)
}

// Config holds the subset of the server config relevant to Stratum.
type Config struct {
	HostName          string
	Port              int
	StartDifficulty   bigrat.Difficulty
	VardiffEnabled    bool
	Vardiff           vardiff.Config
}

// Server is the TCP listener and session coordinator.
type Server struct {
	cfg       Config
	tm        TemplateLookup
	dedup     *dedupSet
	registry  *registry
	addrIndex *addressIndex
	events    chan BlockEvent
}

func New(cfg Config, tm TemplateLookup) *Server {
	return &Server{
		cfg:       cfg,
		tm:        tm,
		dedup:     newDedupSet(),
		registry:  newRegistry(),
		addrIndex: newAddressIndex(),
		events:    make(chan BlockEvent, 64),
	}
}

// Events returns the channel of block-found notifications for the
// orchestrator to consume.
func (s *Server) Events() <-chan BlockEvent { return s.events }

// SessionCount returns the number of currently connected sessions, for
// the optional live-stats mirror.
func (s *Server) SessionCount() int { return s.registry.count() }

// Announce implements the TemplateManager onAnnounce callback: build a
// mining.notify frame and fan it out to every subscriber (§4.C.4).
func (s *Server) Announce(jobID uint16, preHash [32]byte, timestamp time.Time) {
	jobIDHex := fmt.Sprintf("%04x", jobID)

	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(timestamp.Unix()))
	payload := append(append([]byte{}, preHash[:]...), ts...)
	payloadHex := hex.EncodeToString(payload)

	notif := NewNotify(jobIDHex, payloadHex)
	line, err := notif.marshalLine()
	if err != nil {
		log.Printf("stratum: marshal notify: %v", err)
		return
	}

	s.registry.forEachSubscriber(func(sess *Session) {
		if err := sess.writeLine(line); err != nil {
			s.registry.remove(sess)
			s.addrIndex.removeSession(sess)
		}
	})
}

// Listen runs the accept loop until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	addrStr := net.JoinHostPort(s.cfg.HostName, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addrStr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addrStr, err)
	}
	log.Printf("stratum: listening on %s", addrStr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("stratum: accept error: %v", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess, err := NewSession(conn, s.cfg.StartDifficulty)
	if err != nil {
		log.Printf("stratum: new session: %v", err)
		return
	}
	s.registry.add(sess)
	defer func() {
		s.registry.remove(sess)
		s.addrIndex.removeSession(sess)
	}()

	var tracker *vardiff.Tracker
	if s.cfg.VardiffEnabled {
		tracker = vardiff.NewTracker(s.cfg.Vardiff, s.cfg.StartDifficulty, time.Now())
	}

	idleTimer := time.AfterFunc(idleTimeout, func() {
		if !sess.IsSubscribed() {
			conn.Close()
		}
	})
	defer idleTimer.Stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), bufferCeiling)

	malformed := 0
	msgCount := 0
	windowStart := time.Now()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msgCount++
		if time.Since(windowStart) > time.Second {
			windowStart = time.Now()
			msgCount = 1
		}
		if msgCount > rateLimitPerSec*rateLimitBurst {
			log.Printf("stratum: session %s exceeded rate limit, closing", sess.id)
			return
		}

		req, err := ParseRequest(line)
		if err != nil {
			malformed++
			if malformed > malformedLimit {
				log.Printf("stratum: session %s exceeded malformed-message limit, closing", sess.id)
				return
			}
			continue
		}

		resp, blockEvt := s.handleRequest(ctx, sess, tracker, req)
		if resp != nil {
			data, err := resp.marshalLine()
			if err != nil {
				log.Printf("stratum: marshal response: %v", err)
				return
			}
			if err := sess.writeLine(data); err != nil {
				return
			}
		}
		if req.Method == "mining.subscribe" && sess.IsSubscribed() {
			if tracker != nil {
				tracker = vardiff.NewTracker(s.cfg.Vardiff, sess.Difficulty(), time.Now())
			}
			s.sendPostSubscribe(sess)
		}
		if blockEvt != nil {
			select {
			case s.events <- *blockEvt:
			default:
				log.Printf("stratum: block event channel full, dropping event for %s", blockEvt.Hash)
			}
		}
	}
}

func (s *Server) sendPostSubscribe(sess *Session) {
	extranonceLine, err := NewSetExtranonce(sess.Dialect(), sess.Extranonce()).marshalLine()
	if err == nil {
		sess.writeLine(extranonceLine)
	}
	diffLine, err := NewSetDifficulty(sess.Difficulty().Float64()).marshalLine()
	if err == nil {
		sess.writeLine(diffLine)
	}
}

// handleRequest dispatches one parsed request sequentially against the
// session's current state, returning the reply to write and, if the share
// proved to be a block, the event to publish.
func (s *Server) handleRequest(ctx context.Context, sess *Session, tracker *vardiff.Tracker, req *Request) (*Response, *BlockEvent) {
	switch req.Method {
	case "mining.subscribe":
		return s.handleSubscribe(sess, req), nil
	case "mining.authorize":
		return s.handleAuthorize(sess, req), nil
	case "mining.submit":
		return s.handleSubmit(ctx, sess, tracker, req)
	default:
		if sess.State() < StateSubscribed {
			return NewErrorResponse(req.ID, CodeNotSubscribed, ErrNotSubscribed.Error()), nil
		}
		return NewErrorResponse(req.ID, CodeUnknown, "unknown method"), nil
	}
}

func (s *Server) handleSubscribe(sess *Session, req *Request) *Response {
	var userAgent string
	if len(req.Params) > 0 {
		if ua, ok := req.Params[0].(string); ok {
			userAgent = ua
		}
	}

	dialect := DetectDialect(userAgent)
	sess.LatchDialect(dialect)
	sess.userAgent = userAgent

	if seed, ok := SeedDifficulty(userAgent); ok {
		sess.SetDifficulty(bigrat.NewDifficultyFromFloat(seed))
	}

	sess.mu.Lock()
	sess.subscribed = true
	sess.state = StateSubscribed
	sess.mu.Unlock()

	return NewSubscribeResponse(req.ID, sess.Dialect(), sess.Extranonce())
}

func (s *Server) handleAuthorize(sess *Session, req *Request) *Response {
	if sess.State() < StateSubscribed {
		return NewErrorResponse(req.ID, CodeNotSubscribed, ErrNotSubscribed.Error())
	}
	if len(req.Params) == 0 {
		return NewErrorResponse(req.ID, CodeUnknown, "missing identity")
	}
	identity, _ := req.Params[0].(string)

	address, worker, err := splitIdentity(identity)
	if err != nil {
		return NewErrorResponse(req.ID, CodeUnknown, err.Error())
	}
	canonical := addr.Canonicalize(address)

	w := Worker{Address: canonical, Name: worker}
	sess.AddWorker(w)
	s.addrIndex.add(canonical, sess)

	sess.mu.Lock()
	sess.state = StateAuthorized
	sess.mu.Unlock()

	return NewOKResponse(req.ID, true)
}

// splitIdentity splits "address.workerName" on the first dot; worker names
// may themselves contain dots (§4.C.2, testable property 1).
func splitIdentity(identity string) (address, worker string, err error) {
	idx := strings.IndexByte(identity, '.')
	if idx < 0 {
		return "", "", fmt.Errorf("missing worker name")
	}
	address = identity[:idx]
	worker = identity[idx+1:]
	if worker == "" {
		return "", "", fmt.Errorf("missing worker name")
	}
	return address, worker, nil
}

func (s *Server) handleSubmit(ctx context.Context, sess *Session, tracker *vardiff.Tracker, req *Request) (*Response, *BlockEvent) {
	if sess.State() < StateSubscribed {
		return NewErrorResponse(req.ID, CodeNotSubscribed, ErrNotSubscribed.Error()), nil
	}
	if len(req.Params) < 3 {
		return NewErrorResponse(req.ID, CodeUnknown, "missing params"), nil
	}

	identity, _ := req.Params[0].(string)
	jobIDStr, _ := req.Params[1].(string)
	nonceStr, _ := req.Params[2].(string)

	address, worker, err := splitIdentity(identity)
	if err != nil {
		return NewErrorResponse(req.ID, CodeUnknown, err.Error()), nil
	}
	canonical := addr.Canonicalize(address)
	w := Worker{Address: canonical, Name: worker}
	if !sess.HasWorker(w) {
		return NewErrorResponse(req.ID, CodeUnauthorizedWorker, ErrUnauthorizedWorker.Error()), nil
	}

	jobID, err := parseJobID(jobIDStr)
	if err != nil {
		return NewErrorResponse(req.ID, CodeJobNotFound, ErrJobNotFound.Error()), nil
	}
	preHash, err := s.tm.GetHash(jobID)
	if err != nil {
		return NewErrorResponse(req.ID, CodeJobNotFound, ErrJobNotFound.Error()), nil
	}
	pow, err := s.tm.GetPoW(preHash)
	if err != nil {
		return NewErrorResponse(req.ID, CodeJobNotFound, ErrJobNotFound.Error()), nil
	}

	nonce, err := parseNonce(sess.Dialect(), sess.Extranonce(), nonceStr)
	if err != nil {
		return NewErrorResponse(req.ID, CodeUnknown, err.Error()), nil
	}

	fp := addr.Fingerprint(canonical + ":" + hex.EncodeToString(nonce))
	nonceKey := hex.EncodeToString(fp[:])
	if s.dedup.Contains(nonceKey) {
		return NewErrorResponse(req.ID, CodeDuplicateShare, ErrDuplicateShare.Error()), nil
	}

	isBlock, target, err := pow.CheckWork(nonce)
	if err != nil {
		return NewErrorResponse(req.ID, CodeUnknown, err.Error()), nil
	}

	diff := sess.Difficulty()
	if !meetsDifficulty(target, diff) {
		return NewErrorResponse(req.ID, CodeLowDifficultyShare, ErrLowDifficultyShare.Error()), nil
	}

	if tracker != nil {
		if newDiff, changed := tracker.RecordShare(time.Now()); changed {
			sess.SetDifficulty(newDiff)
			if line, err := NewSetDifficulty(newDiff.Float64()).marshalLine(); err == nil {
				sess.writeLine(line)
			}
		}
	}

	if isBlock {
		s.dedup.MarkSeen(nonceKey)
		contribs := s.dedup.Drain()
		contribs = append(contribs, Contribution{Address: canonical, Difficulty: diff.String()})

		hash, err := s.tm.Submit(ctx, preHash, nonce)
		if err != nil {
			log.Printf("stratum: block submission failed: %v", err)
			return NewErrorResponse(req.ID, CodeUnknown, ErrBlockSubmissionFailed.Error()), nil
		}
		return NewOKResponse(req.ID, true), &BlockEvent{
			Hash:             hash,
			Finder:           canonical,
			FinderDifficulty: diff.String(),
			Timestamp:        time.Now(),
			Contributions:    contribs,
		}
	}

	s.dedup.CheckAndAdd(nonceKey, Contribution{Address: canonical, Difficulty: diff.String()})
	return NewOKResponse(req.ID, true), nil
}

func parseJobID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// parseNonce decodes the nonce representation per dialect (§4.C.3 step 3).
func parseNonce(dialect Dialect, extranonce string, raw string) ([]byte, error) {
	if dialect == DialectBitmain {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bitmain nonce: %w", err)
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, v)
		return out, nil
	}

	clean := strings.TrimPrefix(raw, "0x")
	if len(clean)/2+len(extranonce)/2 < 8 {
		clean = extranonce + clean
	}
	nonce, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce hex: %w", err)
	}
	return nonce, nil
}

// maxTarget is the PoW's easiest possible target (difficulty 1), used to
// derive the target implied by a session's assigned difficulty:
// target(difficulty) = maxTarget / difficulty.
var maxTarget = func() *big.Int {
	t := new(big.Int).Lsh(big.NewInt(1), 256)
	return t.Sub(t, big.NewInt(1))
}()

// meetsDifficulty compares the achieved target (big-endian bytes, smaller
// is harder) against the target implied by the session's current
// difficulty (§4.C.3 step 5).
func meetsDifficulty(target []byte, difficulty bigrat.Difficulty) bool {
	if len(target) == 0 {
		return false
	}
	achieved := new(big.Int).SetBytes(target)

	diffRat := difficulty.Rat()
	if diffRat.Sign() <= 0 {
		return false
	}
	impliedRat := new(big.Rat).Quo(new(big.Rat).SetInt(maxTarget), diffRat)
	implied := new(big.Int).Quo(impliedRat.Num(), impliedRat.Denom())

	return achieved.Cmp(implied) <= 0
}
