// Package tick implements the fixed-frequency driver that turns accumulated
// dirty pixels and per-connection send buffers into the system's central
// performance property: one coalesced broadcast write per connection per
// tick, regardless of how many paints landed in that tick.
package tick

import (
	"context"
	"log"
	"time"

	"github.com/pixelhall/paintboard/internal/pixelstore"
	"github.com/pixelhall/paintboard/internal/wsproto"
)

// Broadcaster is the slice of the protocol engine the scheduler drives.
type Broadcaster interface {
	Broadcast(frame []byte)
	FlushAll() int
}

// Scheduler runs the tick loop described in spec.md §4.6.
type Scheduler struct {
	Board          *pixelstore.Store
	Proto          Broadcaster
	TicksPerSecond int
	Logger         *log.Logger
}

// New builds a scheduler. logger may be nil to use the default logger.
func New(board *pixelstore.Store, proto Broadcaster, ticksPerSecond int, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{Board: board, Proto: proto, TicksPerSecond: ticksPerSecond, Logger: logger}
}

// Run drives ticks until ctx is canceled. Each tick: drain dirty pixels,
// publish the coalesced frame (including back to the writer — "publish to
// self", per spec.md §4.6), flush every connection's send buffer, and warn
// on overrun.
func (s *Scheduler) Run(ctx context.Context) {
	period := time.Second / time.Duration(s.TicksPerSecond)
	overrunThreshold := period + 50*time.Millisecond

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now

			s.runOneTick()

			if elapsed > overrunThreshold {
				s.Logger.Printf("tick: overrun — elapsed %v exceeds budget %v", elapsed, overrunThreshold)
			}
		}
	}
}

func (s *Scheduler) runOneTick() {
	dirty := s.Board.DrainDirty()
	frame := wsproto.EncodeBroadcastFrame(dirty)
	s.Proto.Broadcast(frame)
	s.Proto.FlushAll()
}
