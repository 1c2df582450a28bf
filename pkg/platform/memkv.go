package platform

import (
	"sync"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
)

// MemoryKV is a process-local KV.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[chatdb.PlayerID]map[string]string
}

// NewMemoryKV returns an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[chatdb.PlayerID]map[string]string)}
}

func (m *MemoryKV) Has(player chatdb.PlayerID, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[player][key]
	return ok
}

func (m *MemoryKV) GetString(player chatdb.PlayerID, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[player][key]
}

func (m *MemoryKV) SetString(player chatdb.PlayerID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.data[player]
	if p == nil {
		p = make(map[string]string)
		m.data[player] = p
	}
	p[key] = value
	return nil
}

func (m *MemoryKV) Remove(player chatdb.PlayerID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[player], key)
	if len(m.data[player]) == 0 {
		delete(m.data, player)
	}
	return nil
}

// ForEach calls fn for every stored value.
func (m *MemoryKV) ForEach(fn func(player chatdb.PlayerID, key, value string) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p, kv := range m.data {
		for k, v := range kv {
			if err := fn(p, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Import stores entries.
func (m *MemoryKV) Import(entries []Entry) error {
	for _, e := range entries {
		m.SetString(e.Player, e.Key, e.Value)
	}
	return nil
}

// Close is a no-op.
func (m *MemoryKV) Close() error { return nil }
