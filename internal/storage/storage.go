// Package storage is the durable-storage adapter: it owns the sqlite
// database holding the board snapshot and token table, and the one-time
// legacy liucang.db import described in spec.md §4.7/§6.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// TokenEntry is one (token, uid) row.
type TokenEntry struct {
	Token string
	UID   int64
}

// Store wraps the sqlite database backing board_data and tokens, per the
// on-disk schema in spec.md §6 (kept for compatibility with the original
// format, not because sqlite is the only reasonable backend).
type Store struct {
	db *sql.DB
}

// Open opens (and, if needed, creates) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn.

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS board_data (
		id INTEGER PRIMARY KEY CHECK(id=1),
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		pixels BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create board_data: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		uid INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tokens: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBoard returns the single persisted board row, if one exists.
func (s *Store) LoadBoard() (width, height int, pixels []byte, ok bool, err error) {
	row := s.db.QueryRow(`SELECT width, height, pixels FROM board_data WHERE id = 1`)
	err = row.Scan(&width, &height, &pixels)
	if err == sql.ErrNoRows {
		return 0, 0, nil, false, nil
	}
	if err != nil {
		return 0, 0, nil, false, fmt.Errorf("storage: load board: %w", err)
	}
	return width, height, pixels, true, nil
}

// SaveBoard upserts the single board_data row.
func (s *Store) SaveBoard(pixels []byte, width, height int) error {
	_, err := s.db.Exec(`INSERT INTO board_data (id, width, height, pixels) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET width=excluded.width, height=excluded.height, pixels=excluded.pixels`,
		width, height, pixels)
	if err != nil {
		return fmt.Errorf("storage: save board: %w", err)
	}
	return nil
}

// LoadTokens returns every persisted (token, uid) pair.
func (s *Store) LoadTokens() ([]TokenEntry, error) {
	rows, err := s.db.Query(`SELECT token, uid FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("storage: load tokens: %w", err)
	}
	defer rows.Close()

	var out []TokenEntry
	for rows.Next() {
		var e TokenEntry
		if err := rows.Scan(&e.Token, &e.UID); err != nil {
			return nil, fmt.Errorf("storage: scan token row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveToken inserts or replaces a single (token, uid) row.
func (s *Store) SaveToken(token string, uid int64) error {
	_, err := s.db.Exec(`INSERT INTO tokens (token, uid) VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET uid=excluded.uid`, token, uid)
	if err != nil {
		return fmt.Errorf("storage: save token: %w", err)
	}
	return nil
}

// DeleteTokensByUID removes every token bound to uid.
func (s *Store) DeleteTokensByUID(uid int64) error {
	_, err := s.db.Exec(`DELETE FROM tokens WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("storage: delete tokens for uid %d: %w", uid, err)
	}
	return nil
}

// DeleteToken removes a single token row, used by duplicate cleanup.
func (s *Store) DeleteToken(token string) error {
	_, err := s.db.Exec(`DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("storage: delete token: %w", err)
	}
	return nil
}

// ImportLegacy copies every row out of a legacy liucang.db (same tokens
// schema) into this store's tokens table, in a single transaction, per
// spec.md §4.7/§6. It returns the number of rows imported.
func (s *Store) ImportLegacy(path string) (int, error) {
	legacy, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("storage: open legacy db %s: %w", path, err)
	}
	defer legacy.Close()

	rows, err := legacy.Query(`SELECT token, uid FROM tokens`)
	if err != nil {
		return 0, fmt.Errorf("storage: read legacy tokens: %w", err)
	}
	defer rows.Close()

	var entries []TokenEntry
	for rows.Next() {
		var e TokenEntry
		if err := rows.Scan(&e.Token, &e.UID); err != nil {
			return 0, fmt.Errorf("storage: scan legacy token row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("storage: begin legacy import transaction: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(`INSERT INTO tokens (token, uid) VALUES (?, ?)
			ON CONFLICT(token) DO UPDATE SET uid=excluded.uid`, e.Token, e.UID); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("storage: import legacy token row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit legacy import: %w", err)
	}
	return len(entries), nil
}
