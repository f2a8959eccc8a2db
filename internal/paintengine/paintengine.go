// Package paintengine validates and applies a single client's paint attempt
// against the pixel store, never raising a Go error — every outcome maps to
// a ResultCode that rides back to the client in a 0xFF packet.
package paintengine

import (
	"time"

	"github.com/pixelhall/paintboard/internal/pixelstore"
	"github.com/pixelhall/paintboard/internal/ratelimit"
)

// ResultCode is the single byte returned to the client for every paint
// attempt. Values match the wire protocol in spec.md §4.3 exactly.
type ResultCode byte

const (
	Success      ResultCode = 0xEF
	InvalidToken ResultCode = 0xED
	Cooling      ResultCode = 0xEE
	BadFormat    ResultCode = 0xEC
	NoPermission ResultCode = 0xEB
	ServerError  ResultCode = 0xEA
)

// TokenLookup is the slice of the token registry the engine needs.
type TokenLookup interface {
	Lookup(token string) (uid int64, ok bool)
}

// Engine wires the board, token registry, cooldown table and uid ban set
// into the five-step admission check described in spec.md §4.3.
type Engine struct {
	Board      *pixelstore.Store
	Tokens     TokenLookup
	Cooldown   *ratelimit.CooldownTable
	UidBans    *ratelimit.UidBanSet
	PaintDelay time.Duration
}

// TryPaint runs the ordered admission checks and, on success, writes the
// pixel and records the cooldown timestamp. claimedUID is the uid the client
// asserted in its packet; it must match the uid the token actually resolves
// to, per spec.md §4.3 step 2.
func (e *Engine) TryPaint(token string, claimedUID int64, x, y int, c pixelstore.Color, now time.Time) ResultCode {
	if e.UidBans.IsBanned(claimedUID) {
		return NoPermission
	}

	boundUID, ok := e.Tokens.Lookup(token)
	if !ok || boundUID != claimedUID {
		return InvalidToken
	}

	if e.Cooldown.Elapsed(claimedUID, now) < e.PaintDelay {
		return Cooling
	}

	if !e.Board.Set(x, y, c) {
		return BadFormat
	}

	e.Cooldown.Record(claimedUID, now)
	return Success
}
