package wsproto

import (
	"time"

	"github.com/pixelhall/paintboard/internal/ratelimit"
)

// RatelimitAdmission adapts internal/ratelimit's IP ban table, per-IP
// connection counter and packet-rate limiter factory into the Admission
// interface this package depends on. It lives here (rather than in
// internal/ratelimit) so internal/ratelimit never needs to import wsproto.
type RatelimitAdmission struct {
	Bans               *ratelimit.BanTable
	Conns              *ratelimit.ConnCounter
	MaxPacketPerSecond int
}

// NewRatelimitAdmission builds the wsproto-facing adapter over the shared
// ban/connection-count tables.
func NewRatelimitAdmission(bans *ratelimit.BanTable, conns *ratelimit.ConnCounter, maxPacketPerSecond int) *RatelimitAdmission {
	return &RatelimitAdmission{Bans: bans, Conns: conns, MaxPacketPerSecond: maxPacketPerSecond}
}

func (a *RatelimitAdmission) CheckIPBanned(ip string) (time.Duration, bool) {
	return a.Bans.Check(ip)
}

func (a *RatelimitAdmission) BanIP(ip string, d time.Duration) {
	a.Bans.Ban(ip, d)
}

func (a *RatelimitAdmission) IncConn(ip string) int {
	return a.Conns.Inc(ip)
}

func (a *RatelimitAdmission) DecConn(ip string) {
	a.Conns.Dec(ip)
}

func (a *RatelimitAdmission) NewPacketLimiter() packetLimiter {
	return ratelimit.NewPacketLimiter(a.MaxPacketPerSecond)
}
