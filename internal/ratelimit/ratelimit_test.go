package ratelimit

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 3, 16)
	assert.Error(t, err)

	_, err = New(30*time.Second, 0, 16)
	assert.Error(t, err)

	_, err = New(30*time.Second, 3, 0)
	assert.Error(t, err)

	_, err = New(-time.Second, 3, 16)
	assert.Error(t, err)
}

func TestAdmitAt_BurstThenDeny(t *testing.T) {
	// one shard so every address shares the same bucket
	g, err := New(30*time.Second, 3, 1)
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.7")
	t0 := time.Now()

	for i := 0; i < 3; i++ {
		_, ok := g.AdmitAt(t0, addr)
		require.True(t, ok, "request %d within burst should be allowed", i+1)
	}

	retry, ok := g.AdmitAt(t0, addr)
	require.False(t, ok)
	// one token accrues every period/burst = 10s
	assert.Equal(t, 10*time.Second, retry)

	// a full period later the bucket has refilled
	_, ok = g.AdmitAt(t0.Add(30*time.Second), addr)
	assert.True(t, ok)
}

func TestAdmitAt_DenialDoesNotConsume(t *testing.T) {
	g, err := New(30*time.Second, 1, 1)
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.7")
	t0 := time.Now()

	_, ok := g.AdmitAt(t0, addr)
	require.True(t, ok)

	// hammering while denied must not push the refill time further out
	for i := 0; i < 10; i++ {
		retry, ok := g.AdmitAt(t0, addr)
		require.False(t, ok)
		assert.Equal(t, 30*time.Second, retry)
	}

	_, ok = g.AdmitAt(t0.Add(30*time.Second), addr)
	assert.True(t, ok)
}

func TestAdmitAt_RetryAfterRoundsUp(t *testing.T) {
	g, err := New(45*time.Second, 2, 1)
	require.NoError(t, err)

	addr := netip.MustParseAddr("198.51.100.1")
	t0 := time.Now()

	_, ok := g.AdmitAt(t0, addr)
	require.True(t, ok)
	_, ok = g.AdmitAt(t0, addr)
	require.True(t, ok)

	// next token at t0+22.5s; half a second in, 22s remain, reported as 22s
	retry, ok := g.AdmitAt(t0.Add(500*time.Millisecond), addr)
	require.False(t, ok)
	assert.Equal(t, 22*time.Second, retry)
}

func TestShardIndex_IPv6Prefix(t *testing.T) {
	g, err := New(30*time.Second, 3, 16384)
	require.NoError(t, err)

	// same /64, different interface identifiers
	a := netip.MustParseAddr("2001:db8:1:2::1")
	b := netip.MustParseAddr("2001:db8:1:2:ffff:ffff:ffff:ffff")
	c := netip.MustParseAddr("2001:db8:1:2:dead:beef:cafe:1")

	assert.Equal(t, g.ShardIndex(a), g.ShardIndex(b))
	assert.Equal(t, g.ShardIndex(a), g.ShardIndex(c))
}

func TestShardIndex_StableWithinProcess(t *testing.T) {
	g, err := New(30*time.Second, 3, 1024)
	require.NoError(t, err)

	addr := netip.MustParseAddr("192.0.2.55")
	idx := g.ShardIndex(addr)
	for i := 0; i < 100; i++ {
		assert.Equal(t, idx, g.ShardIndex(addr))
	}
}

func TestShardIndex_IPv4MappedEqualsIPv4(t *testing.T) {
	g, err := New(30*time.Second, 3, 1024)
	require.NoError(t, err)

	v4 := netip.MustParseAddr("192.0.2.55")
	mapped := netip.MustParseAddr("::ffff:192.0.2.55")
	assert.Equal(t, g.ShardIndex(v4), g.ShardIndex(mapped))
}

func TestAdmitAt_ShardsIndependent(t *testing.T) {
	g, err := New(30*time.Second, 1, 16384)
	require.NoError(t, err)

	// find two addresses that land in different shards
	a := netip.MustParseAddr("203.0.113.1")
	var b netip.Addr
	for i := 2; i < 255; i++ {
		cand := netip.MustParseAddr(fmt.Sprintf("203.0.113.%d", i))
		if g.ShardIndex(cand) != g.ShardIndex(a) {
			b = cand
			break
		}
	}
	require.True(t, b.IsValid(), "no second shard found")

	t0 := time.Now()
	_, ok := g.AdmitAt(t0, a)
	require.True(t, ok)
	_, ok = g.AdmitAt(t0, a)
	require.False(t, ok)

	// exhausting a's shard must not affect b's
	_, ok = g.AdmitAt(t0, b)
	assert.True(t, ok)
}
