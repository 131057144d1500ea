// Package livestats mirrors a slice of frequently-polled pool state into
// Redis as a short-lived, best-effort cache: connected-miner counts and
// per-miner hashrate estimates. Grounded on the teacher's cmd/stratum/
// main.go Redis client construction; unlike the Store, this is never the
// system of record — a Redis outage degrades stats freshness for
// dashboards polling it, never pool correctness, so every method here
// logs and continues rather than propagating a fatal error.
package livestats

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 2 * time.Minute

// Cache wraps a redis client for the pool's live-stats mirror.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to addr (host:port). Connection failures surface at the
// first call, not here, matching the best-effort contract.
func New(addr string) *Cache {
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: defaultTTL,
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// SetConnectedMiners mirrors the given connected-session count (the caller
// passes stratum.Server.SessionCount, which includes unsubscribed sessions).
func (c *Cache) SetConnectedMiners(ctx context.Context, count int) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, "pool:connected_miners", count, c.ttl).Err(); err != nil {
		log.Printf("livestats: set connected miners: %v", err)
	}
}

// SetHashrate mirrors a per-address estimated hashrate (hashes/sec),
// derived observationally from accepted-share difficulty and never fed
// back into vardiff or share validation.
func (c *Cache) SetHashrate(ctx context.Context, address string, hashesPerSec float64) {
	if c == nil {
		return
	}
	key := "pool:hashrate:" + address
	if err := c.rdb.Set(ctx, key, hashesPerSec, c.ttl).Err(); err != nil {
		log.Printf("livestats: set hashrate for %s: %v", address, err)
	}
}

// GetConnectedMiners reads back the last mirrored count, for the optional
// HTTP API to surface without hitting the Store. Returns ok=false on any
// cache miss or error.
func (c *Cache) GetConnectedMiners(ctx context.Context) (count int, ok bool) {
	if c == nil {
		return 0, false
	}
	v, err := c.rdb.Get(ctx, "pool:connected_miners").Int()
	if err != nil {
		return 0, false
	}
	return v, true
}
