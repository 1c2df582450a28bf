// Package boltstore persists per-player chat state in a bbolt file.
package boltstore

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
	bbolt "go.etcd.io/bbolt"
)

// importBatch is the number of entries written per transaction by Import.
const importBatch = 1000

// Store is a platform.KV backed by bbolt. Every write is its own ACID
// transaction.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketPlayerData} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyVersion) == nil {
			return meta.Put(keyVersion, intToKey(schemaVersion))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Version returns the schema version recorded in the file.
func (s *Store) Version() int {
	v := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketMeta).Get(keyVersion); b != nil {
			v = keyToInt(b)
		}
		return nil
	})
	return v
}

func (s *Store) get(player chatdb.PlayerID, key string) ([]byte, bool) {
	var out []byte
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketPlayerData).Get(dataKey(player, key)); v != nil {
			out = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		log.Printf("boltstore: read %s/%s: %v", player, key, err)
		return nil, false
	}
	return out, out != nil
}

// Has reports whether a value is stored for player/key.
func (s *Store) Has(player chatdb.PlayerID, key string) bool {
	_, ok := s.get(player, key)
	return ok
}

// GetString returns the stored value, or "" when absent.
func (s *Store) GetString(player chatdb.PlayerID, key string) string {
	v, _ := s.get(player, key)
	return string(v)
}

// SetString persists a value (write-through).
func (s *Store) SetString(player chatdb.PlayerID, key, value string) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPlayerData).Put(dataKey(player, key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("boltstore: put %s/%s: %w", player, key, err)
	}
	return nil
}

// Remove deletes a value. Removing an absent key is not an error.
func (s *Store) Remove(player chatdb.PlayerID, key string) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPlayerData).Delete(dataKey(player, key))
	})
	if err != nil {
		return fmt.Errorf("boltstore: delete %s/%s: %w", player, key, err)
	}
	return nil
}

// PlayerData returns every value stored for one player.
func (s *Store) PlayerData(player chatdb.PlayerID) (map[string]string, error) {
	out := make(map[string]string)
	prefix := playerPrefix(player)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPlayerData).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out[string(k[len(prefix):])] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load %s: %w", player, err)
	}
	return out, nil
}

// DeletePlayer removes all of a player's values.
func (s *Store) DeletePlayer(player chatdb.PlayerID) error {
	prefix := playerPrefix(player)
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPlayerData)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEach calls fn for every stored value, in key order. fn must not write
// to the store.
func (s *Store) ForEach(fn func(player chatdb.PlayerID, key, value string) error) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPlayerData).ForEach(func(k, v []byte) error {
			player, key, ok := splitKey(k)
			if !ok {
				log.Printf("WARNING: boltstore: skipping malformed key %q", k)
				return nil
			}
			return fn(player, key, string(v))
		})
	})
}

// Import bulk-loads entries, batching importBatch entries per transaction.
func (s *Store) Import(entries []platform.Entry) error {
	for start := 0; start < len(entries); start += importBatch {
		end := min(start+importBatch, len(entries))
		if err := s.writeBatch(entries[start:end]); err != nil {
			return fmt.Errorf("boltstore: import batch at %d: %w", start, err)
		}
	}
	log.Printf("boltstore: imported %d entries", len(entries))
	return nil
}

// writeBatch writes a batch of entries in a single transaction.
func (s *Store) writeBatch(entries []platform.Entry) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPlayerData)
		for _, e := range entries {
			if err := b.Put(dataKey(e.Player, e.Key), []byte(e.Value)); err != nil {
				return err
			}
		}
		return nil
	})
}

// HasData returns true if any player data is stored.
func (s *Store) HasData() bool {
	hasData := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketPlayerData).Stats().KeyN > 0 {
			hasData = true
		}
		return nil
	})
	return hasData
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}
