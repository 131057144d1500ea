// Package store is the single-writer, crash-safe persistence layer: three
// sub-domains (miners, blocks, payments), each a bucket in one bbolt
// database file. Grounded on Alex110709-obsidian-core's
// database/storage.go (NewStorage/bucket/transaction shape), generalized
// from one blocks bucket to three, and from gob to JSON encoding so the
// on-disk records stay inspectable with any bbolt CLI tool.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketMiners   = "miners"
	bucketBlocks   = "blocks"
	bucketPayments = "payments"
)

// ErrNegativeBalance is returned by AddBalance when applying delta would
// drive a miner's balance below zero.
type ErrNegativeBalance struct {
	Address string
	Current int64
	Delta   int64
}

func (e *ErrNegativeBalance) Error() string {
	return fmt.Sprintf("addBalance: %s balance %d + delta %d would go negative", e.Address, e.Current, e.Delta)
}

// Store is the bbolt-backed implementation of the persistence contract.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database file under dataDir, ensuring all three
// sub-domain buckets exist.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbFile := filepath.Join(dataDir, "pool.db")
	db, err := bbolt.Open(dbFile, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range []string{bucketMiners, bucketBlocks, bucketPayments} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetMiner returns the record for addr, or a zero-valued default if absent.
// It never fails for a missing key.
func (s *Store) GetMiner(addr string) (Miner, error) {
	m := Miner{Address: addr}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketMiners)).Get([]byte(addr))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return Miner{}, fmt.Errorf("getMiner %s: %w", addr, err)
	}
	return m, nil
}

func (s *Store) putMiner(tx *bbolt.Tx, m Miner) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketMiners)).Put([]byte(m.Address), data)
}

// AddBalance atomically applies delta (which may be negative) to addr's
// balance. Writes that would drive the balance below zero are rejected and
// reported via ErrNegativeBalance.
func (s *Store) AddBalance(addr string, delta int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketMiners))
		m := Miner{Address: addr}
		if data := b.Get([]byte(addr)); data != nil {
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
		}
		next := m.Balance + delta
		if next < 0 {
			return &ErrNegativeBalance{Address: addr, Current: m.Balance, Delta: delta}
		}
		m.Balance = next
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(addr), data)
	})
	if err != nil {
		return fmt.Errorf("addBalance %s: %w", addr, err)
	}
	return nil
}

// SetPaymentThreshold updates a single field atomically.
func (s *Store) SetPaymentThreshold(addr string, threshold int64) error {
	return s.updateMiner(addr, func(m *Miner) { m.PaymentThreshold = threshold })
}

// SetPaymentInterval updates a single field atomically.
func (s *Store) SetPaymentInterval(addr string, hours int64) error {
	return s.updateMiner(addr, func(m *Miner) { m.PaymentIntervalHours = hours })
}

// SetLastPayoutTime updates a single field atomically.
func (s *Store) SetLastPayoutTime(addr string, t time.Time) error {
	return s.updateMiner(addr, func(m *Miner) { m.LastPayoutTime = t })
}

// IncrementBlockCount atomically increments addr's blocks-found counter.
func (s *Store) IncrementBlockCount(addr string) error {
	return s.updateMiner(addr, func(m *Miner) { m.BlocksFound++ })
}

func (s *Store) updateMiner(addr string, mutate func(*Miner)) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketMiners))
		m := Miner{Address: addr}
		if data := b.Get([]byte(addr)); data != nil {
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
		}
		mutate(&m)
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(addr), data)
	})
	if err != nil {
		return fmt.Errorf("updateMiner %s: %w", addr, err)
	}
	return nil
}

// GetAllMiners enumerates every miner record except the reserved revenue
// key.
func (s *Store) GetAllMiners() ([]Miner, error) {
	var out []Miner
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketMiners))
		return b.ForEach(func(k, v []byte) error {
			if string(k) == RevenueKey {
				return nil
			}
			var m Miner
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("getAllMiners: %w", err)
	}
	return out, nil
}

// AddBlock is idempotent on block hash: re-adding an existing hash updates
// its mutable fields (paid, contributions) without duplicating the record.
func (s *Store) AddBlock(rec Block) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketBlocks)).Put([]byte(rec.Hash), data)
	})
	if err != nil {
		return fmt.Errorf("addBlock %s: %w", rec.Hash, err)
	}
	return nil
}

// GetBlock returns a single block record by hash.
func (s *Store) GetBlock(hash string) (Block, bool, error) {
	var rec Block
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketBlocks)).Get([]byte(hash))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Block{}, false, fmt.Errorf("getBlock %s: %w", hash, err)
	}
	return rec, found, nil
}

// GetBlocks returns up to limit blocks ordered by timestamp descending.
func (s *Store) GetBlocks(limit int) ([]Block, error) {
	return s.queryBlocks(limit, "")
}

// GetBlocksByAddress returns up to limit blocks found by addr, ordered by
// timestamp descending.
func (s *Store) GetBlocksByAddress(addr string, limit int) ([]Block, error) {
	return s.queryBlocks(limit, addr)
}

// GetUnpaidBlocks returns every block with paid=false, ordered by Timestamp
// ascending (arrival order), not by bbolt's byte-order key iteration.
func (s *Store) GetUnpaidBlocks() ([]Block, error) {
	var out []Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketBlocks)).ForEach(func(k, v []byte) error {
			var rec Block
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.Paid {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("getUnpaidBlocks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) queryBlocks(limit int, filterAddr string) ([]Block, error) {
	var out []Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketBlocks)).ForEach(func(k, v []byte) error {
			var rec Block
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if filterAddr == "" || rec.Finder == filterAddr {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("queryBlocks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddPayment appends a new payment record.
func (s *Store) AddPayment(p Payment) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketPayments)).Put([]byte(p.ID), data)
	})
	if err != nil {
		return fmt.Errorf("addPayment %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePayment mutates the status of an existing payment row.
func (s *Store) UpdatePayment(id string, status PaymentStatus) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPayments))
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("payment %s not found", id)
		}
		var p Payment
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		p.Status = status
		out, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return fmt.Errorf("updatePayment %s: %w", id, err)
	}
	return nil
}
