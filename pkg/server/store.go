package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crystal-mush/mushchat/pkg/boltstore"
	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/crystal-mush/mushchat/pkg/redisstore"
	"github.com/crystal-mush/mushchat/pkg/sqlstore"
)

// Backend is a per-player KV the engine can persist to, export from and
// bulk-load into.
type Backend interface {
	platform.KV
	platform.Exporter
	Import(entries []platform.Entry) error
	Close() error
}

// OpenStore opens the backend selected by c.
func OpenStore(c StoreConf) (Backend, error) {
	switch c.Backend {
	case BackendBolt, "":
		if err := ensureDir(c.Path); err != nil {
			return nil, err
		}
		s, err := boltstore.Open(c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		if err := ensureDir(c.Path); err != nil {
			return nil, err
		}
		s, err := sqlstore.Open(c.Path, c.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := redisstore.Open(redisstore.Config{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			Prefix:   c.RedisPrefix,
			Timeout:  time.Duration(c.Timeout) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return platform.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("server: unknown store backend %q", c.Backend)
}

func ensureDir(path string) error {
	if path == "" {
		return fmt.Errorf("server: store path not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("server: create store dir: %w", err)
	}
	return nil
}

// Migrate copies every entry from src into dst and returns the count.
func Migrate(src platform.Exporter, dst Backend) (int, error) {
	var entries []platform.Entry
	err := src.ForEach(func(player chatdb.PlayerID, key, value string) error {
		entries = append(entries, platform.Entry{Player: player, Key: key, Value: value})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("server: migrate: read: %w", err)
	}
	if err := dst.Import(entries); err != nil {
		return 0, fmt.Errorf("server: migrate: write: %w", err)
	}
	return len(entries), nil
}
