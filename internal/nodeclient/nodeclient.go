// Package nodeclient declares the full-node RPC surface this pool
// consumes. The client itself — transport, wire format, reconnect policy —
// is out of scope; only the interface other components program against
// lives here, plus a hand-written fake for tests, following the teacher's
// mocks.go pattern of fakes implementing the package's own interfaces
// rather than a generated-mock library.
package nodeclient

import (
	"context"
	"time"
)

// BlockTemplate is the opaque payload the node hands back for mining: a
// header plus a coinbase transaction paying the pool's funding address.
// The Stratum and template layers treat Header as opaque bytes; only the
// PoW verifier understands its structure.
type BlockTemplate struct {
	Header    []byte
	PreHash   [32]byte
	Timestamp time.Time
}

// Block is the node's view of a block already on (or rejected from) the
// chain.
type Block struct {
	Hash      string
	DAAScore  uint64
	Timestamp time.Time
}

// BlockColor is the DAG-consensus confirmation signal.
type BlockColor string

const (
	ColorBlue BlockColor = "blue"
	ColorRed  BlockColor = "red"
	ColorUnknown BlockColor = "unknown"
)

// UTXO is a single unspent output at the funding address.
type UTXO struct {
	TxID         string
	OutputIndex  uint32
	Amount       int64
	BlockDAAScore uint64
	ScriptPubKey []byte
}

// MaturityEvent is emitted by the UTXO processor when a coinbase output
// crosses the maturity threshold.
type MaturityEvent struct {
	TxID          string
	GrossAmount   int64
	BlockDAAScore uint64
	BlockTime     time.Time
}

// BlockAddedEvent is emitted on the block-added stream.
type BlockAddedEvent struct {
	Hash      string
	Timestamp time.Time
}

// Client is the set of remote operations the pool consumes, per §6.
type Client interface {
	GetServerInfo(ctx context.Context) (synced bool, err error)
	GetBlockTemplate(ctx context.Context, payAddress string, extraData []byte) (*BlockTemplate, error)
	SubmitBlock(ctx context.Context, header []byte, nonce []byte) error
	GetBlock(ctx context.Context, hash string) (*Block, error)
	GetBlockDagInfo(ctx context.Context) (daaScore uint64, err error)
	GetCurrentBlockColor(ctx context.Context, hash string) (BlockColor, error)
	GetDaaScoreTimestampEstimate(ctx context.Context, daaScore uint64) (time.Time, error)
	GetFeeEstimate(ctx context.Context) (feeRate int64, err error)
	GetUtxosByAddresses(ctx context.Context, addresses []string) ([]UTXO, error)

	SubscribeNewBlockTemplate(ctx context.Context, payAddress string) (<-chan *BlockTemplate, error)
	SubscribeBlockAdded(ctx context.Context) (<-chan BlockAddedEvent, error)
	SubscribeUTXOMaturity(ctx context.Context, address string) (<-chan MaturityEvent, error)

	SignAndSubmit(ctx context.Context, privateKey string, outputs map[string]int64) (txIDs []string, err error)
}
