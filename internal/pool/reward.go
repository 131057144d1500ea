package pool

import (
	"context"
	"log"
	"math/big"

	"github.com/chimera-pool/kaspa-pool-core/internal/bigrat"
	"github.com/chimera-pool/kaspa-pool-core/internal/nodeclient"
	"github.com/chimera-pool/kaspa-pool-core/internal/store"
)

// pendingBlock is one unpaid block's contribution aggregation, held in
// arrival order so the reward fold (§4.E.4) can walk it without a DB round
// trip on every distribution.
type pendingBlock struct {
	hash          string
	contributions []store.Contribution
	totalWork     *big.Int
}

// contributionWork parses a persisted Contribution's exact-rational
// difficulty string into a work unit. A parse failure can only mean a
// corrupted record; it is logged and treated as zero work rather than
// aborting the whole fold.
func contributionWork(c store.Contribution) *big.Int {
	d, err := bigrat.ParseDifficulty(c.Difficulty)
	if err != nil {
		log.Printf("pool: contribution %s has unparseable difficulty %q, treating as zero work: %v", c.Address, c.Difficulty, err)
		return new(big.Int)
	}
	return bigrat.DifficultyToWork(d)
}

func blockWork(contribs []store.Contribution) *big.Int {
	sum := bigrat.NewWorkSum()
	for _, c := range contribs {
		sum.Add(contributionWork(c))
	}
	return sum.Int()
}

// restorePending rebuilds the in-memory pending list from the Store, but
// only when it is currently empty — restoring unconditionally on every
// call would double-credit contributions already folded into a prior
// distribution (§9's resolved open question on the two competing
// upstream implementations: the spec mandates "restore only when empty").
func (p *Pool) restorePending(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) != 0 {
		return nil
	}

	blocks, err := p.store.GetUnpaidBlocks()
	if err != nil {
		return err
	}
	for _, b := range blocks {
		p.pending = append(p.pending, pendingBlock{
			hash:          b.Hash,
			contributions: b.Contributions,
			totalWork:     blockWork(b.Contributions),
		})
	}
	return nil
}

// PayoutOutput is one credited or payable recipient from a distribution.
type PayoutOutput struct {
	Address string
	Amount  int64
	Payout  bool // true if this should be sent on-chain now
}

// distributeLocked implements §4.E.4: fold unpaid blocks in arrival order
// into a running contributor aggregate until the node reports the current
// fold's block as "blue", then split amount proportionally to work.
// Callers must hold p.mu (or call via Distribute, which serializes all
// distributions behind the processing latch per §5).
func (p *Pool) distributeLocked(ctx context.Context, amount int64, node nodeclient.Client) ([]string, map[string]int64, error) {
	contributors := map[string]*big.Int{}
	accumulated := new(big.Int)
	var foldedHashes []string

	for _, blk := range p.pending {
		for _, c := range blk.contributions {
			w := contributionWork(c)
			if cur, ok := contributors[c.Address]; ok {
				cur.Add(cur, w)
			} else {
				contributors[c.Address] = w
			}
		}
		accumulated.Add(accumulated, blk.totalWork)
		foldedHashes = append(foldedHashes, blk.hash)

		color, err := node.GetCurrentBlockColor(ctx, blk.hash)
		if err != nil {
			log.Printf("pool: getCurrentBlockColor(%s) failed: %v; continuing fold", blk.hash, err)
			continue
		}
		if color == nodeclient.ColorBlue {
			break
		}
	}

	amountBig := big.NewInt(amount)
	shares := map[string]int64{}
	for addr, work := range contributors {
		shares[addr] = bigrat.ProportionalShare(work, accumulated, amountBig)
	}

	return foldedHashes, shares, nil
}
