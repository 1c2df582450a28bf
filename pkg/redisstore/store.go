// Package redisstore persists per-player chat state in Redis, one hash per
// player, so several game processes can share it.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/redis/go-redis/v9"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Prefix namespaces every key; default "mushchat".
	Prefix string
	// Timeout bounds each call; default 3s.
	Timeout time.Duration
}

// Store is a platform.KV backed by Redis hashes.
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// Open connects to Redis and verifies the connection with PING.
func Open(c Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	s := New(rdb, c.Prefix, c.Timeout)

	ctx, cancel := s.ctx()
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", c.Addr, err)
	}
	return s, nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, timeout time.Duration) *Store {
	if prefix == "" {
		prefix = "mushchat"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Store{client: client, prefix: prefix, timeout: timeout}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// playerKey: <prefix>:player:<id>
func (s *Store) playerKey(player chatdb.PlayerID) string {
	return s.prefix + ":player:" + string(player)
}

func (s *Store) playerFromKey(key string) (chatdb.PlayerID, bool) {
	id, ok := strings.CutPrefix(key, s.prefix+":player:")
	return chatdb.PlayerID(id), ok && id != ""
}

// Has reports whether a value is stored for player/key.
func (s *Store) Has(player chatdb.PlayerID, key string) bool {
	ctx, cancel := s.ctx()
	defer cancel()
	ok, err := s.client.HExists(ctx, s.playerKey(player), key).Result()
	if err != nil {
		log.Printf("redisstore: exists %s/%s: %v", player, key, err)
		return false
	}
	return ok
}

// GetString returns the stored value, or "" when absent.
func (s *Store) GetString(player chatdb.PlayerID, key string) string {
	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.client.HGet(ctx, s.playerKey(player), key).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		log.Printf("redisstore: read %s/%s: %v", player, key, err)
		return ""
	}
	return v
}

// SetString stores a value.
func (s *Store) SetString(player chatdb.PlayerID, key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.HSet(ctx, s.playerKey(player), key, value).Err(); err != nil {
		return fmt.Errorf("redisstore: put %s/%s: %w", player, key, err)
	}
	return nil
}

// Remove deletes a value. Removing an absent key is not an error.
func (s *Store) Remove(player chatdb.PlayerID, key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.HDel(ctx, s.playerKey(player), key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s/%s: %w", player, key, err)
	}
	return nil
}

// PlayerData returns every value stored for one player.
func (s *Store) PlayerData(player chatdb.PlayerID) (map[string]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	m, err := s.client.HGetAll(ctx, s.playerKey(player)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load %s: %w", player, err)
	}
	return m, nil
}

// ForEach walks every player hash under the prefix with SCAN.
func (s *Store) ForEach(fn func(player chatdb.PlayerID, key, value string) error) error {
	var cursor uint64
	for {
		ctx, cancel := s.ctx()
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":player:*", 100).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redisstore: scan: %w", err)
		}
		for _, k := range keys {
			player, ok := s.playerFromKey(k)
			if !ok {
				continue
			}
			data, err := s.PlayerData(player)
			if err != nil {
				return err
			}
			for key, v := range data {
				if err := fn(player, key, v); err != nil {
					return err
				}
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Import writes entries in one pipeline.
func (s *Store) Import(entries []platform.Entry) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range entries {
			p.HSet(ctx, s.playerKey(e.Player), e.Key, e.Value)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: import: %w", err)
	}
	log.Printf("redisstore: imported %d entries", len(entries))
	return nil
}
