// Package treasury tracks coinbase maturity for blocks the pool mined and
// exposes an on-demand payment sender (§4.D). No direct teacher
// equivalent exists for the UTXO-maturity watcher itself; the
// reconnect/backoff idiom is grounded on cmd/stratum/main.go's
// litecoinRPCWithRetry exponential-backoff pattern, and the watchdog shape
// on internal/monitoring/recovery/network_watchdog.go.
package treasury

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
)

// CoinbaseEvent is emitted when a coinbase UTXO matures.
type CoinbaseEvent struct {
	NetAmount      int64
	GrossAmount    int64
	RewardBlockHash string // best-effort; empty if unresolved
	TxID           string
	BlockDAAScore  uint64
}

// RevenueEvent is emitted alongside each CoinbaseEvent, carrying the fee
// portion.
type RevenueEvent struct {
	PoolFee int64
}

// Config is the Treasury's own configuration, carried as a field rather
// than relying on hidden process-wide state (§9 "Global-state escapes").
type Config struct {
	PrivateKey      string
	FundingAddress  string
	FeeBps          int64
	MaturityDAA     uint64
	StartedAt       time.Time
	WatchdogTimeout time.Duration
}

// Treasury watches the funding address's UTXO stream and maintains a
// best-effort reverse index from coinbase tx ID to the producing block
// hash.
type Treasury struct {
	cfg  Config
	node nodeclient.Client

	coinbaseEvents chan CoinbaseEvent
	revenueEvents  chan RevenueEvent

	txToBlock map[string]string
}

func New(cfg Config, node nodeclient.Client) *Treasury {
	if cfg.WatchdogTimeout == 0 {
		cfg.WatchdogTimeout = 120 * time.Second
	}
	return &Treasury{
		cfg:            cfg,
		node:           node,
		coinbaseEvents: make(chan CoinbaseEvent, 32),
		revenueEvents:  make(chan RevenueEvent, 32),
		txToBlock:      map[string]string{},
	}
}

func (t *Treasury) CoinbaseEvents() <-chan CoinbaseEvent { return t.coinbaseEvents }
func (t *Treasury) RevenueEvents() <-chan RevenueEvent   { return t.revenueEvents }

// FundingAddress returns the pool's own payout wallet address, for
// components that need to recognize the pool's own outputs (e.g. pool's
// script-decoding coinbase-reconstruction fallback).
func (t *Treasury) FundingAddress() string { return t.cfg.FundingAddress }

// BlockHashToTxID returns the index key that indexBlockAdded stored for a
// block hash, for pool's coinbase-value reconstruction fallback (§4.E.3
// stage 2). That key is the hash GetBlock reported for the block, not a
// transaction ID: no coinbase transaction IDs are recorded. Returns "" if
// the block was never indexed.
func (t *Treasury) BlockHashToTxID(blockHash string) string {
	for tx, hash := range t.txToBlock {
		if hash == blockHash {
			return tx
		}
	}
	return ""
}

// Run starts the UTXO-maturity watcher and the block-added reverse-index
// watcher, both reconnecting on failure until ctx is cancelled.
func (t *Treasury) Run(ctx context.Context) {
	go t.watchMaturity(ctx)
	go t.watchBlockAdded(ctx)
}

func (t *Treasury) watchMaturity(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := t.node.SubscribeUTXOMaturity(ctx, t.cfg.FundingAddress)
		if err != nil {
			log.Printf("treasury: subscribe maturity failed: %v, retrying in %s", err, backoff)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		for ev := range events {
			t.handleMaturity(ev)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// cutoff suppresses noise from ancient UTXOs on a fresh install while still
// supporting restart: coinbases older than 24h before process start are
// dropped; anything newer (even if before start time) is processed.
func (t *Treasury) handleMaturity(ev nodeclient.MaturityEvent) {
	cutoff := t.cfg.StartedAt.Add(-24 * time.Hour)
	if ev.BlockTime.Before(cutoff) {
		return
	}

	fee := ev.GrossAmount * t.cfg.FeeBps / 10_000
	net := ev.GrossAmount - fee

	blockHash := t.txToBlock[ev.TxID]

	select {
	case t.coinbaseEvents <- CoinbaseEvent{
		NetAmount:       net,
		GrossAmount:     ev.GrossAmount,
		RewardBlockHash: blockHash,
		TxID:            ev.TxID,
		BlockDAAScore:   ev.BlockDAAScore,
	}:
	default:
		log.Printf("treasury: coinbase event channel full, dropping tx %s", ev.TxID)
	}

	select {
	case t.revenueEvents <- RevenueEvent{PoolFee: fee}:
	default:
	}
}

func (t *Treasury) watchBlockAdded(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := t.node.SubscribeBlockAdded(ctx)
		if err != nil {
			log.Printf("treasury: subscribe block-added failed: %v, retrying in %s", err, backoff)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		t.drainBlockAdded(ctx, events)
	}
}

func (t *Treasury) drainBlockAdded(ctx context.Context, events <-chan nodeclient.BlockAddedEvent) {
	timeout := time.NewTimer(t.cfg.WatchdogTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			log.Printf("treasury: block-added watchdog fired after %s, reconnecting", t.cfg.WatchdogTimeout)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !timeout.Stop() {
				<-timeout.C
			}
			timeout.Reset(t.cfg.WatchdogTimeout)
			t.indexBlockAdded(ctx, ev)
		}
	}
}

// indexBlockAdded records a best-effort mapping for a newly added block:
// the hash GetBlock reports for it -> the block-added event's hash. Block
// outputs are not inspected and no transaction IDs are recorded, because
// nodeclient.Block carries only hash, DAA score and timestamp; lookups by
// a coinbase tx ID (handleMaturity's RewardBlockHash) therefore only hit
// when that ID equals a block hash.
func (t *Treasury) indexBlockAdded(ctx context.Context, ev nodeclient.BlockAddedEvent) {
	blk, err := t.node.GetBlock(ctx, ev.Hash)
	if err != nil || blk == nil {
		return
	}
	t.txToBlock[blk.Hash] = ev.Hash
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	return next
}

// Output is a single on-chain payment to make.
type Output struct {
	Address string
	Amount  int64
}

// Send sends one on-chain transaction per output, in order (§4.D: no
// batching). For each output it re-fetches the UTXO set to avoid
// double-spending across iterations, validates funds, and submits. It
// returns, for every output that was actually submitted, its tx ID keyed by
// address — including outputs that succeeded before a later one in the
// same call failed, so a caller can tell exactly which payments went
// on-chain rather than assuming "error means nothing happened".
func (t *Treasury) Send(ctx context.Context, outputs []Output) (sent map[string]string, err error) {
	sent = map[string]string{}
	for _, o := range outputs {
		utxos, err := t.node.GetUtxosByAddresses(ctx, []string{t.cfg.FundingAddress})
		if err != nil {
			return sent, fmt.Errorf("refresh utxos for %s: %w", o.Address, err)
		}
		var available int64
		for _, u := range utxos {
			available += u.Amount
		}
		if available < o.Amount {
			return sent, fmt.Errorf("insufficient funds: need %d, have %d", o.Amount, available)
		}

		ids, err := t.node.SignAndSubmit(ctx, t.cfg.PrivateKey, map[string]int64{o.Address: o.Amount})
		if err != nil {
			return sent, fmt.Errorf("send to %s: %w", o.Address, err)
		}
		txID := o.Address
		if len(ids) > 0 {
			txID = ids[0]
		}
		sent[o.Address] = txID
	}
	return sent, nil
}
