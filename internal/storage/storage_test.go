package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveBoardRoundTrip(t *testing.T) {
	s := openTestStore(t)
	pixels := make([]byte, 4*2*3)
	pixels[3] = 9

	require.NoError(t, s.SaveBoard(pixels, 4, 2))

	w, h, got, ok, err := s.LoadBoard()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
	assert.Equal(t, pixels, got)
}

func TestLoadBoardEmpty(t *testing.T) {
	s := openTestStore(t)
	_, _, _, ok, err := s.LoadBoard()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveBoardUpsertsSingleRow(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveBoard([]byte{1, 2, 3}, 1, 1))
	require.NoError(t, s.SaveBoard([]byte{4, 5, 6}, 1, 1))

	_, _, got, ok, err := s.LoadBoard()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{4, 5, 6}, got)
}

func TestTokenSaveLoadDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveToken("tok-a", 1))
	require.NoError(t, s.SaveToken("tok-b", 2))

	entries, err := s.LoadTokens()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.DeleteTokensByUID(1))
	entries, err = s.LoadTokens()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tok-b", entries[0].Token)
}

func TestImportLegacy(t *testing.T) {
	legacyPath := filepath.Join(t.TempDir(), "liucang.db")
	legacy, err := Open(legacyPath)
	require.NoError(t, err)
	require.NoError(t, legacy.SaveToken("legacy-tok", 99))
	require.NoError(t, legacy.Close())

	s := openTestStore(t)
	n, err := s.ImportLegacy(legacyPath)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := s.LoadTokens()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(99), entries[0].UID)
}
