// Package ratelimit implements fixed-memory per-client admission control.
//
// Client addresses hash into a fixed array of token-bucket shards, so memory
// stays constant no matter how many distinct clients appear. Unrelated
// clients may land in the same shard and share its budget; that approximation
// is the price of never growing state.
package ratelimit

import (
	"encoding/binary"
	"fmt"
	"hash/maphash"
	"math"
	"net/netip"
	"time"

	"golang.org/x/time/rate"
)

// Gate is a sharded token-bucket admission gate.
type Gate struct {
	seed   maphash.Seed
	shards []*rate.Limiter
}

// New creates a gate that admits up to burst requests immediately per shard
// and thereafter one request every period/burst. The shard count is fixed for
// the gate's lifetime.
func New(period time.Duration, burst, shards int) (*Gate, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rate limit period must be positive, got %v", period)
	}
	if burst <= 0 {
		return nil, fmt.Errorf("rate limit burst must be positive, got %d", burst)
	}
	if shards <= 0 {
		return nil, fmt.Errorf("rate limit shard count must be positive, got %d", shards)
	}

	g := &Gate{
		seed:   maphash.MakeSeed(),
		shards: make([]*rate.Limiter, shards),
	}
	interval := period / time.Duration(burst)
	for i := range g.shards {
		g.shards[i] = rate.NewLimiter(rate.Every(interval), burst)
	}
	return g, nil
}

// bucketKey collapses an address to the prefix that identifies a client: the
// full 32 bits of an IPv4 address, or the top 64 bits (routed prefix) of an
// IPv6 address so SLAAC hosts within one /64 share a bucket.
func bucketKey(addr netip.Addr) uint64 {
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return uint64(binary.BigEndian.Uint32(b[:]))
	}
	b := addr.As16()
	return binary.BigEndian.Uint64(b[:8])
}

// ShardIndex returns the shard an address maps to. The mapping is stable for
// the gate's lifetime but changes across restarts with the hash seed.
func (g *Gate) ShardIndex(addr netip.Addr) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bucketKey(addr))
	return int(maphash.Bytes(g.seed, buf[:]) % uint64(len(g.shards)))
}

// AdmitAt makes an admission decision for addr at the given instant. When
// denied, the returned duration is how long until the next token becomes
// available, rounded up to whole seconds so a client honoring the hint never
// retries early.
func (g *Gate) AdmitAt(now time.Time, addr netip.Addr) (time.Duration, bool) {
	lim := g.shards[g.ShardIndex(addr)]

	rsv := lim.ReserveN(now, 1)
	if !rsv.OK() {
		// unreachable for a single-token reservation with burst >= 1
		return time.Second, false
	}
	delay := rsv.DelayFrom(now)
	if delay <= 0 {
		return 0, true
	}
	rsv.CancelAt(now)
	return time.Duration(math.Ceil(delay.Seconds())) * time.Second, false
}

// Admit decides for the current time.
func (g *Gate) Admit(addr netip.Addr) (time.Duration, bool) {
	return g.AdmitAt(time.Now(), addr)
}
