// Package sqlstore persists per-player chat state in a SQLite database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS player_data (
	player TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  TEXT NOT NULL,
	PRIMARY KEY (player, key)
)`

// Store is a platform.KV backed by SQLite.
type Store struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

// Open opens a SQLite database, sets WAL mode and busy timeout, and creates
// the player_data table if needed.
func Open(path string, timeoutSec int) (*Store, error) {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", path, err)
	}
	// Set WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting WAL mode: %w", err)
	}
	// Set busy timeout (milliseconds)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: creating schema: %w", err)
	}
	return &Store{db: db, path: path, timeout: time.Duration(timeoutSec) * time.Second}, nil
}

// Close closes the SQLite database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) get(player chatdb.PlayerID, key string) (string, bool) {
	ctx, cancel := s.ctx()
	defer cancel()
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM player_data WHERE player = ? AND key = ?", string(player), key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false
	case err != nil:
		log.Printf("sqlstore: read %s/%s: %v", player, key, err)
		return "", false
	}
	return v, true
}

// Has reports whether a value is stored for player/key.
func (s *Store) Has(player chatdb.PlayerID, key string) bool {
	_, ok := s.get(player, key)
	return ok
}

// GetString returns the stored value, or "" when absent.
func (s *Store) GetString(player chatdb.PlayerID, key string) string {
	v, _ := s.get(player, key)
	return v
}

// SetString upserts a value.
func (s *Store) SetString(player chatdb.PlayerID, key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_data (player, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (player, key) DO UPDATE SET value = excluded.value`,
		string(player), key, value)
	if err != nil {
		return fmt.Errorf("sqlstore: put %s/%s: %w", player, key, err)
	}
	return nil
}

// Remove deletes a value. Removing an absent key is not an error.
func (s *Store) Remove(player chatdb.PlayerID, key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM player_data WHERE player = ? AND key = ?", string(player), key); err != nil {
		return fmt.Errorf("sqlstore: delete %s/%s: %w", player, key, err)
	}
	return nil
}

// PlayerData returns every value stored for one player.
func (s *Store) PlayerData(player chatdb.PlayerID) (map[string]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM player_data WHERE player = ?", string(player))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load %s: %w", player, err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlstore: load %s: %w", player, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ForEach calls fn for every stored value, ordered by player then key.
// Rows are read fully before fn is called, so fn may write to the store.
func (s *Store) ForEach(fn func(player chatdb.PlayerID, key, value string) error) error {
	ctx, cancel := s.ctx()
	rows, err := s.db.QueryContext(ctx, "SELECT player, key, value FROM player_data ORDER BY player, key")
	if err != nil {
		cancel()
		return fmt.Errorf("sqlstore: scan: %w", err)
	}
	var entries []platform.Entry
	for rows.Next() {
		var e platform.Entry
		var p string
		if err := rows.Scan(&p, &e.Key, &e.Value); err != nil {
			rows.Close()
			cancel()
			return fmt.Errorf("sqlstore: scan: %w", err)
		}
		e.Player = chatdb.PlayerID(p)
		entries = append(entries, e)
	}
	err = rows.Err()
	rows.Close()
	cancel()
	if err != nil {
		return fmt.Errorf("sqlstore: scan: %w", err)
	}
	for _, e := range entries {
		if err := fn(e.Player, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Import bulk-loads entries in a single transaction.
func (s *Store) Import(entries []platform.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: import: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO player_data (player, key, value) VALUES (?, ?, ?)
		ON CONFLICT (player, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlstore: import: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.Exec(string(e.Player), e.Key, e.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlstore: import %s/%s: %w", e.Player, e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: import commit: %w", err)
	}
	log.Printf("sqlstore: imported %d entries", len(entries))
	return nil
}
