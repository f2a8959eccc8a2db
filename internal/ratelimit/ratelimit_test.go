package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanTableExpiry(t *testing.T) {
	b := NewBanTable()
	b.Ban("1.2.3.4", 20*time.Millisecond)

	remaining, banned := b.Check("1.2.3.4")
	require.True(t, banned)
	assert.Greater(t, remaining, time.Duration(0))

	time.Sleep(30 * time.Millisecond)
	_, banned = b.Check("1.2.3.4")
	assert.False(t, banned)
}

func TestUidBanSet(t *testing.T) {
	s := NewUidBanSet()
	assert.False(t, s.IsBanned(1))
	s.Ban(1)
	assert.True(t, s.IsBanned(1))
	s.Unban(1)
	assert.False(t, s.IsBanned(1))
}

func TestCooldownTableRecordAndElapsed(t *testing.T) {
	c := NewCooldownTable()
	now := time.Now()
	assert.Greater(t, c.Elapsed(42, now), 365*24*time.Hour)

	c.Record(42, now)
	later := now.Add(500 * time.Millisecond)
	assert.InDelta(t, 500*time.Millisecond, c.Elapsed(42, later), float64(time.Millisecond))
}

func TestPacketLimiterAllowsBurstThenBlocks(t *testing.T) {
	p := NewPacketLimiter(4)
	allowed := 0
	for i := 0; i < 10; i++ {
		if p.Allow() {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 5)
	assert.GreaterOrEqual(t, allowed, 1)
}

func TestConnCounter(t *testing.T) {
	c := NewConnCounter()
	assert.Equal(t, 1, c.Inc("1.1.1.1"))
	assert.Equal(t, 2, c.Inc("1.1.1.1"))
	c.Dec("1.1.1.1")
	assert.Equal(t, 1, c.Count("1.1.1.1"))
	c.Dec("1.1.1.1")
	assert.Equal(t, 0, c.Count("1.1.1.1"))
}
