package pixelstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFillsGray(t *testing.T) {
	s := New(4, 2)
	snap := s.Snapshot()
	require.Len(t, snap, 4*2*3)
	for i := 0; i < 4*2; i++ {
		assert.Equal(t, byte(170), snap[i*3])
		assert.Equal(t, byte(170), snap[i*3+1])
		assert.Equal(t, byte(170), snap[i*3+2])
	}
}

func TestSetOutOfBounds(t *testing.T) {
	s := New(4, 2)
	assert.False(t, s.Set(10, 0, Color{255, 0, 0}))
	assert.False(t, s.Set(0, -1, Color{255, 0, 0}))
	assert.Empty(t, s.DrainDirty())
}

func TestSetThenSnapshotReflectsLastWrite(t *testing.T) {
	s := New(4, 2)
	require.True(t, s.Set(1, 0, Color{10, 20, 30}))
	require.True(t, s.Set(1, 0, Color{1, 2, 3}))
	snap := s.Snapshot()
	off := (0*4 + 1) * 3
	assert.Equal(t, []byte{1, 2, 3}, snap[off:off+3])
}

func TestDrainDirtyCoalescesAndClears(t *testing.T) {
	s := New(4, 2)
	s.Set(0, 0, Color{1, 1, 1})
	s.Set(1, 0, Color{2, 2, 2})
	s.Set(0, 0, Color{9, 9, 9})

	got := s.DrainDirty()
	byXY := map[[2]int]Color{}
	for _, p := range got {
		byXY[[2]int{p.X, p.Y}] = p.Color
	}
	require.Len(t, got, 2)
	assert.Equal(t, Color{9, 9, 9}, byXY[[2]int{0, 0}])
	assert.Equal(t, Color{2, 2, 2}, byXY[[2]int{1, 0}])

	assert.Empty(t, s.DrainDirty())
}

func TestAdoptDimensionMismatch(t *testing.T) {
	_, err := Adopt(4, 2, make([]byte, 3*3*3), 3, 3)
	require.Error(t, err)
	var mismatch *DimensionMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestAdoptMatchingDimensions(t *testing.T) {
	data := make([]byte, 4*2*3)
	data[3] = 5
	s, err := Adopt(4, 2, data, 4, 2)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, byte(5), snap[3])
}

func TestConcurrentSetIsRaceFree(t *testing.T) {
	s := New(8, 8)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(i%8, (i/8)%8, Color{byte(i), byte(i), byte(i)})
		}(i)
	}
	wg.Wait()
	_ = s.DrainDirty()
}
