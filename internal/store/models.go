package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RevenueKey is the reserved synthetic miner key under which the pool's own
// fee revenue accrues. It is never returned by GetAllMiners.
const RevenueKey = "me"

// Miner is a persisted miner balance record, keyed by canonical address.
type Miner struct {
	Address              string
	Balance              int64
	PaymentThreshold     int64
	PaymentIntervalHours int64
	LastPayoutTime       time.Time
	BlocksFound          int64
}

// minerJSON is Miner's wire/on-disk shape. Sompi amounts are encoded as
// decimal strings rather than JSON numbers: a pool's aggregate balance
// routinely exceeds the 53 bits a JSON number preserves exactly (§6
// "Persistence layout"). This is the bbolt record shape; the HTTP API
// builds its own response type (api.minerView) with the same string
// encoding for amounts.
type minerJSON struct {
	Address              string    `json:"address"`
	Balance              string    `json:"balance"`
	PaymentThreshold     string    `json:"paymentThreshold,omitempty"`
	PaymentIntervalHours int64     `json:"paymentIntervalHours,omitempty"`
	LastPayoutTime       time.Time `json:"lastPayoutTime,omitempty"`
	BlocksFound          int64     `json:"blocksFound"`
}

func (m Miner) MarshalJSON() ([]byte, error) {
	j := minerJSON{
		Address:              m.Address,
		Balance:              strconv.FormatInt(m.Balance, 10),
		PaymentIntervalHours: m.PaymentIntervalHours,
		LastPayoutTime:       m.LastPayoutTime,
		BlocksFound:          m.BlocksFound,
	}
	if m.PaymentThreshold != 0 {
		j.PaymentThreshold = strconv.FormatInt(m.PaymentThreshold, 10)
	}
	return json.Marshal(j)
}

func (m *Miner) UnmarshalJSON(data []byte) error {
	var j minerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	balance, err := strconv.ParseInt(j.Balance, 10, 64)
	if err != nil {
		return fmt.Errorf("miner balance %q: %w", j.Balance, err)
	}
	var threshold int64
	if j.PaymentThreshold != "" {
		threshold, err = strconv.ParseInt(j.PaymentThreshold, 10, 64)
		if err != nil {
			return fmt.Errorf("miner paymentThreshold %q: %w", j.PaymentThreshold, err)
		}
	}
	m.Address = j.Address
	m.Balance = balance
	m.PaymentThreshold = threshold
	m.PaymentIntervalHours = j.PaymentIntervalHours
	m.LastPayoutTime = j.LastPayoutTime
	m.BlocksFound = j.BlocksFound
	return nil
}

// Contribution is one address's accumulated difficulty toward a block.
// Difficulty is carried as the exact rational string bigrat.Difficulty
// produces (e.g. "4096" or "8193/2"), never a float64: PPLNS totals must
// match the matured reward to the base unit, which binary floating point
// cannot guarantee once vardiff assigns a non-integral difficulty.
type Contribution struct {
	Address    string `json:"address"`
	Difficulty string `json:"difficulty"`
}

// Block is a persisted block record, keyed by the node-canonical block hash.
type Block struct {
	Hash             string
	Finder           string
	Timestamp        time.Time
	FinderDifficulty string
	DAAScore         uint64
	Paid             bool
	Contributions    []Contribution
}

// blockJSON is Block's wire/on-disk shape; DAAScore is encoded as a decimal
// string for the same 53-bit reason as Miner.Balance.
type blockJSON struct {
	Hash             string         `json:"hash"`
	Finder           string         `json:"finder"`
	Timestamp        time.Time      `json:"timestamp"`
	FinderDifficulty string         `json:"finderDifficulty"`
	DAAScore         string         `json:"daaScore"`
	Paid             bool           `json:"paid"`
	Contributions    []Contribution `json:"contributions"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockJSON{
		Hash:             b.Hash,
		Finder:           b.Finder,
		Timestamp:        b.Timestamp,
		FinderDifficulty: b.FinderDifficulty,
		DAAScore:         strconv.FormatUint(b.DAAScore, 10),
		Paid:             b.Paid,
		Contributions:    b.Contributions,
	})
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	daaScore, err := strconv.ParseUint(j.DAAScore, 10, 64)
	if err != nil {
		return fmt.Errorf("block daaScore %q: %w", j.DAAScore, err)
	}
	b.Hash = j.Hash
	b.Finder = j.Finder
	b.Timestamp = j.Timestamp
	b.FinderDifficulty = j.FinderDifficulty
	b.DAAScore = daaScore
	b.Paid = j.Paid
	b.Contributions = j.Contributions
	return nil
}

// PaymentStatus is the lifecycle state of a Payment record.
type PaymentStatus string

const (
	PaymentSent     PaymentStatus = "sent"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRestored PaymentStatus = "restored"
)

// Payment is an append-only record of a payout attempt, keyed by tx ID (or,
// for a failed attempt that never reached the node, a synthetic local ID).
type Payment struct {
	ID            string
	Address       string
	Amount        int64
	Status        PaymentStatus
	BlockHashes   []string
	BalanceBefore int64
	Timestamp     time.Time
}

// paymentJSON is Payment's wire/on-disk shape; Amount and BalanceBefore are
// sompi quantities, encoded as decimal strings for the same 53-bit reason
// as Miner.Balance.
type paymentJSON struct {
	ID            string        `json:"id"`
	Address       string        `json:"address"`
	Amount        string        `json:"amount"`
	Status        PaymentStatus `json:"status"`
	BlockHashes   []string      `json:"blockHashes,omitempty"`
	BalanceBefore string        `json:"balanceBefore"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (p Payment) MarshalJSON() ([]byte, error) {
	return json.Marshal(paymentJSON{
		ID:            p.ID,
		Address:       p.Address,
		Amount:        strconv.FormatInt(p.Amount, 10),
		Status:        p.Status,
		BlockHashes:   p.BlockHashes,
		BalanceBefore: strconv.FormatInt(p.BalanceBefore, 10),
		Timestamp:     p.Timestamp,
	})
}

func (p *Payment) UnmarshalJSON(data []byte) error {
	var j paymentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	amount, err := strconv.ParseInt(j.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("payment amount %q: %w", j.Amount, err)
	}
	before, err := strconv.ParseInt(j.BalanceBefore, 10, 64)
	if err != nil {
		return fmt.Errorf("payment balanceBefore %q: %w", j.BalanceBefore, err)
	}
	p.ID = j.ID
	p.Address = j.Address
	p.Amount = amount
	p.Status = j.Status
	p.BlockHashes = j.BlockHashes
	p.BalanceBefore = before
	p.Timestamp = j.Timestamp
	return nil
}
