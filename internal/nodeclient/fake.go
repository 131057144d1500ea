package nodeclient

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Client used by tests across packages, in the shape
// of the teacher's internal/stratum/mocks.go hand-written fakes.
type Fake struct {
	mu sync.Mutex

	Synced       bool
	Template     *BlockTemplate
	Blocks       map[string]*Block
	Colors       map[string]BlockColor
	UTXOs        []UTXO
	FeeRate      int64
	DAAScore     uint64
	SubmitErr    error
	SubmittedTxs []string

	templateCh chan *BlockTemplate
	blockAddedCh chan BlockAddedEvent
	maturityCh   chan MaturityEvent
}

func NewFake() *Fake {
	return &Fake{
		Synced:       true,
		Blocks:       map[string]*Block{},
		Colors:       map[string]BlockColor{},
		templateCh:   make(chan *BlockTemplate, 8),
		blockAddedCh: make(chan BlockAddedEvent, 8),
		maturityCh:   make(chan MaturityEvent, 8),
	}
}

func (f *Fake) GetServerInfo(ctx context.Context) (bool, error) { return f.Synced, nil }

func (f *Fake) GetBlockTemplate(ctx context.Context, payAddress string, extraData []byte) (*BlockTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Template, nil
}

func (f *Fake) SubmitBlock(ctx context.Context, header []byte, nonce []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SubmitErr
}

func (f *Fake) GetBlock(ctx context.Context, hash string) (*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Blocks[hash]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (f *Fake) GetBlockDagInfo(ctx context.Context) (uint64, error) {
	return f.DAAScore, nil
}

func (f *Fake) GetCurrentBlockColor(ctx context.Context, hash string) (BlockColor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Colors[hash]; ok {
		return c, nil
	}
	return ColorUnknown, nil
}

func (f *Fake) GetDaaScoreTimestampEstimate(ctx context.Context, daaScore uint64) (time.Time, error) {
	return time.Time{}, nil
}

func (f *Fake) GetFeeEstimate(ctx context.Context) (int64, error) { return f.FeeRate, nil }

func (f *Fake) GetUtxosByAddresses(ctx context.Context, addresses []string) ([]UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UTXO(nil), f.UTXOs...), nil
}

func (f *Fake) SubscribeNewBlockTemplate(ctx context.Context, payAddress string) (<-chan *BlockTemplate, error) {
	return f.templateCh, nil
}

func (f *Fake) SubscribeBlockAdded(ctx context.Context) (<-chan BlockAddedEvent, error) {
	return f.blockAddedCh, nil
}

func (f *Fake) SubscribeUTXOMaturity(ctx context.Context, address string) (<-chan MaturityEvent, error) {
	return f.maturityCh, nil
}

// SignAndSubmit spends from f.UTXOs oldest-first, same as a real wallet
// would, so a caller issuing several Send calls against a fixed UTXO set
// sees later calls correctly run short once earlier ones have spent it
// down.
func (f *Fake) SignAndSubmit(ctx context.Context, privateKey string, outputs map[string]int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	var total int64
	for _, amount := range outputs {
		total += amount
	}
	remaining := total
	for i := range f.UTXOs {
		if remaining <= 0 {
			break
		}
		if f.UTXOs[i].Amount <= remaining {
			remaining -= f.UTXOs[i].Amount
			f.UTXOs[i].Amount = 0
		} else {
			f.UTXOs[i].Amount -= remaining
			remaining = 0
		}
	}
	var ids []string
	for range outputs {
		id := "fake-tx"
		ids = append(ids, id)
	}
	f.SubmittedTxs = append(f.SubmittedTxs, ids...)
	return ids, nil
}

// PushTemplate feeds a new template into the subscription channel.
func (f *Fake) PushTemplate(t *BlockTemplate) { f.templateCh <- t }

// PushBlockAdded feeds a block-added event into the subscription channel.
func (f *Fake) PushBlockAdded(e BlockAddedEvent) { f.blockAddedCh <- e }

// PushMaturity feeds a maturity event into the subscription channel.
func (f *Fake) PushMaturity(e MaturityEvent) { f.maturityCh <- e }
