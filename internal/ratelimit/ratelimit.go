// Package ratelimit holds the admission and abuse controls that sit in front
// of the paint engine: per-IP bans, per-uid bans, per-connection packet rate
// limiting, and the per-cooldown-key paint spacing table.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BanTable maps an IP to the time its ban expires. Expired entries are
// removed lazily on lookup, per spec.
type BanTable struct {
	mu   sync.Mutex
	bans map[string]time.Time
}

// NewBanTable builds an empty ban table.
func NewBanTable() *BanTable {
	return &BanTable{bans: make(map[string]time.Time)}
}

// Ban bans ip for d starting now.
func (b *BanTable) Ban(ip string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bans[ip] = time.Now().Add(d)
}

// Check reports whether ip is currently banned and, if so, how much time
// remains. A lookup on an expired ban clears it.
func (b *BanTable) Check(ip string) (remaining time.Duration, banned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.bans[ip]
	if !ok {
		return 0, false
	}
	left := time.Until(expiry)
	if left <= 0 {
		delete(b.bans, ip)
		return 0, false
	}
	return left, true
}

// UidBanSet is a plain set of uids denied service regardless of token
// validity.
type UidBanSet struct {
	mu  sync.RWMutex
	set map[int64]struct{}
}

// NewUidBanSet builds an empty uid ban set.
func NewUidBanSet() *UidBanSet {
	return &UidBanSet{set: make(map[int64]struct{})}
}

// Ban adds uid to the ban set.
func (s *UidBanSet) Ban(uid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[uid] = struct{}{}
}

// Unban removes uid from the ban set.
func (s *UidBanSet) Unban(uid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, uid)
}

// IsBanned reports whether uid is currently banned.
func (s *UidBanSet) IsBanned(uid int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[uid]
	return ok
}

// CooldownTable tracks the last successful paint timestamp per cooldown key
// (uid, per spec.md §9 Open Question 1). No expiry; entries are overwritten
// on every SUCCESS.
type CooldownTable struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

// NewCooldownTable builds an empty cooldown table.
func NewCooldownTable() *CooldownTable {
	return &CooldownTable{last: make(map[int64]time.Time)}
}

// Elapsed returns how long it has been since key's last recorded paint. A key
// with no prior entry is treated as infinitely long ago.
func (c *CooldownTable) Elapsed(key int64, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	if !ok {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(last)
}

// Record overwrites key's last-paint timestamp.
func (c *CooldownTable) Record(key int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = now
}

// PacketLimiter is a per-connection packet-rate gate. Spec.md §9 Open
// Question 3 accepts a rolling window as an equally valid alternative to a
// fixed from-first-packet window; this wraps golang.org/x/time/rate's token
// bucket, burst and refill both set to maxPacketPerSecond, which is the
// idiomatic Go mechanism for exactly this shape of limit.
type PacketLimiter struct {
	limiter *rate.Limiter
}

// NewPacketLimiter builds a limiter allowing maxPerSecond packets/second with
// a burst of the same size.
func NewPacketLimiter(maxPerSecond int) *PacketLimiter {
	return &PacketLimiter{
		limiter: rate.NewLimiter(rate.Limit(maxPerSecond), maxPerSecond),
	}
}

// Allow reports whether one more packet may be admitted right now.
func (p *PacketLimiter) Allow() bool {
	return p.limiter.Allow()
}

// ConnCounter tracks open WebSocket connection counts per IP, used to
// enforce maxWebSocketPerIP.
type ConnCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewConnCounter builds an empty per-IP connection counter.
func NewConnCounter() *ConnCounter {
	return &ConnCounter{counts: make(map[string]int)}
}

// Inc increments ip's open count and returns the new value.
func (c *ConnCounter) Inc(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ip]++
	return c.counts[ip]
}

// Dec decrements ip's open count, removing the entry once it reaches zero.
func (c *ConnCounter) Dec(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ip]--
	if c.counts[ip] <= 0 {
		delete(c.counts, ip)
	}
}

// Count returns ip's current open connection count.
func (c *ConnCounter) Count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ip]
}
