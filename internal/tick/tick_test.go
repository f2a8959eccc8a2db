package tick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelhall/paintboard/internal/pixelstore"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	frames  [][]byte
	flushes int
}

func (f *fakeBroadcaster) Broadcast(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeBroadcaster) FlushAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return 0
}

func (f *fakeBroadcaster) snapshot() ([][]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.frames...), f.flushes
}

func TestRunOneTickDrainsAndBroadcastsThenFlushes(t *testing.T) {
	board := pixelstore.New(4, 2)
	board.Set(0, 0, pixelstore.Color{R: 1, G: 2, B: 3})
	fb := &fakeBroadcaster{}
	s := New(board, fb, 128, nil)

	s.runOneTick()

	frames, flushes := fb.snapshot()
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 8)
	assert.Equal(t, 1, flushes)
	assert.Empty(t, board.DrainDirty())
}

func TestRunOneTickWithNoDirtyPixelsStillFlushes(t *testing.T) {
	board := pixelstore.New(4, 2)
	fb := &fakeBroadcaster{}
	s := New(board, fb, 128, nil)

	s.runOneTick()

	frames, flushes := fb.snapshot()
	require.Len(t, frames, 1)
	assert.Nil(t, frames[0])
	assert.Equal(t, 1, flushes)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	board := pixelstore.New(2, 2)
	fb := &fakeBroadcaster{}
	s := New(board, fb, 200, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	_, flushes := fb.snapshot()
	assert.Greater(t, flushes, 0)
}
