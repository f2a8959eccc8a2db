// Package persist orchestrates the Persistence Adapter described in
// spec.md §4.7: the auto-save timer, graceful-shutdown save, initial load,
// and legacy-DB import on startup. It holds no storage format knowledge of
// its own — that lives in internal/storage — and no pixel knowledge beyond
// calling Dimensions/Snapshot on internal/pixelstore.
package persist

import (
	"context"
	"log"
	"time"

	"github.com/pixelhall/paintboard/internal/pixelstore"
	"github.com/pixelhall/paintboard/internal/storage"
	"github.com/pixelhall/paintboard/internal/tokens"
)

const autoSaveInterval = 5 * time.Minute

const legacyDBPath = "liucang.db"

// Adapter drives periodic and shutdown saves of a live board against a
// storage backend.
type Adapter struct {
	Store  *storage.Store
	Board  *pixelstore.Store
	Logger *log.Logger
}

// New builds an adapter. logger may be nil to use the default logger.
func New(store *storage.Store, board *pixelstore.Store, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{Store: store, Board: board, Logger: logger}
}

// LoadResult reports what Bootstrap found on disk.
type LoadResult struct {
	BoardLoaded   bool
	TokenEntries  []tokens.Entry
	LegacyImports int
}

// Bootstrap runs the startup sequence from spec.md §4.7: import the legacy
// database if useDB is set and the file is present, then always load tokens
// into the registry, then collapse duplicates (deleting the dropped tokens
// from storage), then load the board only when clearBoard is false.
func Bootstrap(store *storage.Store, useDB bool, clearBoard bool, registry *tokens.Registry, logger *log.Logger) (LoadResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	var result LoadResult

	if useDB {
		if n, err := store.ImportLegacy(legacyDBPath); err != nil {
			logger.Printf("persist: legacy import skipped: %v", err)
		} else if n > 0 {
			logger.Printf("persist: imported %d legacy token rows", n)
			result.LegacyImports = n
		}
	}

	entries, err := store.LoadTokens()
	if err != nil {
		return result, err
	}
	tokenEntries := make([]tokens.Entry, len(entries))
	for i, e := range entries {
		tokenEntries[i] = tokens.Entry{Token: e.Token, UID: e.UID}
	}
	registry.LoadAll(tokenEntries)
	result.TokenEntries = tokenEntries

	if dropped := registry.CollapseDuplicates(); len(dropped) > 0 {
		logger.Printf("persist: collapsed %d duplicate tokens", len(dropped))
		for _, tok := range dropped {
			if err := store.DeleteToken(tok); err != nil {
				logger.Printf("persist: delete duplicate token: %v", err)
			}
		}
	}

	if !clearBoard {
		if _, _, _, ok, err := store.LoadBoard(); err != nil {
			return result, err
		} else if ok {
			result.BoardLoaded = true
		}
	}

	return result, nil
}

// Run drives the auto-save ticker until ctx is canceled, then performs one
// final save before returning — the graceful-shutdown save from spec.md
// §4.7.
func (a *Adapter) Run(ctx context.Context) {
	ticker := time.NewTicker(autoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.saveOnce("shutdown")
			return
		case <-ticker.C:
			a.saveOnce("auto-save")
		}
	}
}

func (a *Adapter) saveOnce(label string) {
	w, h := a.Board.Dimensions()
	snap := a.Board.Snapshot()
	if err := a.Store.SaveBoard(snap, w, h); err != nil {
		a.Logger.Printf("persist: %s failed: %v", label, err)
		return
	}
	a.Logger.Printf("persist: %s wrote %d bytes", label, len(snap))
}
