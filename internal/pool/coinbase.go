package pool

import (
	"bytes"
	"context"
	"log"

	"github.com/chimera-pool/kaspa-pool-core/internal/addr"
	"github.com/chimera-pool/kaspa-pool-core/internal/store"
)

// daaWindow bounds how far the forwarded-UTXO fallback will search around
// a block's DAA score (§4.E.3 stage 4).
const daaWindow = 100

// reconstructCoinbaseValue implements §4.E.3's four-stage fallback for
// recovering a mature block's coinbase amount when the straightforward
// maturity-event correlation (handled in Treasury) never fired — e.g. the
// pool restarted between block discovery and coinbase maturity. Each
// stage is tried in order; the first one that finds a matching UTXO wins,
// and its amount is returned as-is (a zero amount is not skipped).
func (p *Pool) reconstructCoinbaseValue(ctx context.Context, blk store.Block) (int64, bool) {
	if amount, ok := p.reconstructByDAAScore(ctx, blk); ok {
		return amount, true
	}
	if amount, ok := p.reconstructByTxID(ctx, blk); ok {
		return amount, true
	}
	if amount, ok := p.reconstructByScriptDecoding(ctx, blk); ok {
		return amount, true
	}
	if amount, ok := p.reconstructByForwardedUTXO(ctx, blk); ok {
		return amount, true
	}
	return 0, false
}

// stage 1: the block's own DAA score should match a UTXO's
// BlockDAAScore exactly, since the coinbase output is created in the same
// block it rewards.
func (p *Pool) reconstructByDAAScore(ctx context.Context, blk store.Block) (int64, bool) {
	if blk.DAAScore == 0 {
		return 0, false
	}
	utxos, err := p.node.GetUtxosByAddresses(ctx, []string{})
	if err != nil {
		log.Printf("pool: reconstructByDAAScore: getUtxosByAddresses: %v", err)
		return 0, false
	}
	for _, u := range utxos {
		if u.BlockDAAScore == blk.DAAScore {
			return u.Amount, true
		}
	}
	return 0, false
}

// stage 2: match UTXO tx IDs against the key Treasury.indexBlockAdded
// stored for this block hash. That key is a block hash rather than a
// coinbase tx ID, so this stage only matches a UTXO whose TxID equals it.
func (p *Pool) reconstructByTxID(ctx context.Context, blk store.Block) (int64, bool) {
	if p.tr == nil {
		return 0, false
	}
	txID := p.tr.BlockHashToTxID(blk.Hash)
	if txID == "" {
		return 0, false
	}
	utxos, err := p.node.GetUtxosByAddresses(ctx, []string{})
	if err != nil {
		log.Printf("pool: reconstructByTxID: getUtxosByAddresses: %v", err)
		return 0, false
	}
	for _, u := range utxos {
		if u.TxID == txID {
			return u.Amount, true
		}
	}
	return 0, false
}

// stage 3: when DAA score correlation is unavailable (the block was
// persisted with DAAScore 0 after a transient GetBlock error, so stages 1
// and 4 can't even start), fall back to the UTXO's own ScriptPubKey: it
// pays the pool's funding address for every coinbase this pool ever
// receives, so a UTXO whose script matches it is a coinbase candidate.
// Decoding the real address-to-script encoding is out of scope for this
// node RPC contract (§6 never commits to a script format), so the
// comparison is against the funding address's canonical bytes rather than
// a parsed script; this only resolves the amount when exactly one UTXO
// matches, since more than one is ambiguous and this stage must never
// fabricate an amount.
func (p *Pool) reconstructByScriptDecoding(ctx context.Context, blk store.Block) (int64, bool) {
	if p.tr == nil {
		return 0, false
	}
	fundingAddr := p.tr.FundingAddress()
	if fundingAddr == "" {
		return 0, false
	}
	expected := []byte(addr.Canonicalize(fundingAddr))

	utxos, err := p.node.GetUtxosByAddresses(ctx, []string{fundingAddr})
	if err != nil {
		log.Printf("pool: reconstructByScriptDecoding: getUtxosByAddresses: %v", err)
		return 0, false
	}

	var amount int64
	matches := 0
	for _, u := range utxos {
		if bytes.Equal(u.ScriptPubKey, expected) {
			matches++
			amount = u.Amount
		}
	}
	if matches != 1 {
		return 0, false
	}
	return amount, true
}

// stage 4: last resort — scan for a UTXO whose BlockDAAScore falls within
// +/-daaWindow of the block's own DAA score, tolerating the node having
// forwarded it against a slightly different DAA checkpoint.
func (p *Pool) reconstructByForwardedUTXO(ctx context.Context, blk store.Block) (int64, bool) {
	if blk.DAAScore == 0 {
		return 0, false
	}
	utxos, err := p.node.GetUtxosByAddresses(ctx, []string{})
	if err != nil {
		log.Printf("pool: reconstructByForwardedUTXO: getUtxosByAddresses: %v", err)
		return 0, false
	}
	lo, hi := blk.DAAScore-daaWindow, blk.DAAScore+daaWindow
	if blk.DAAScore < daaWindow {
		lo = 0
	}
	for _, u := range utxos {
		if u.BlockDAAScore >= lo && u.BlockDAAScore <= hi {
			return u.Amount, true
		}
	}
	return 0, false
}
