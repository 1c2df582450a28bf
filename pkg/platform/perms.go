package platform

import (
	"sync"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
)

// AllowAll grants every node. It is the substitute when the host has no
// permission backend at all.
type AllowAll struct{}

// Has always returns true.
func (AllowAll) Has(chatdb.PlayerID, string, int) bool { return true }

// StaticPermissions holds explicit per-player grants and denies, falling back
// to a numeric privilege level comparison for nodes with no explicit entry.
type StaticPermissions struct {
	mu     sync.RWMutex
	nodes  map[chatdb.PlayerID]map[string]bool
	levels map[chatdb.PlayerID]int
}

// NewStaticPermissions returns an empty permission table.
func NewStaticPermissions() *StaticPermissions {
	return &StaticPermissions{
		nodes:  make(map[chatdb.PlayerID]map[string]bool),
		levels: make(map[chatdb.PlayerID]int),
	}
}

// Grant explicitly allows node for player.
func (s *StaticPermissions) Grant(player chatdb.PlayerID, node string) {
	s.set(player, node, true)
}

// Deny explicitly refuses node for player.
func (s *StaticPermissions) Deny(player chatdb.PlayerID, node string) {
	s.set(player, node, false)
}

// Revoke removes any explicit entry for node.
func (s *StaticPermissions) Revoke(player chatdb.PlayerID, node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes[player], node)
}

// SetLevel sets the player's numeric privilege level.
func (s *StaticPermissions) SetLevel(player chatdb.PlayerID, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[player] = level
}

func (s *StaticPermissions) set(player chatdb.PlayerID, node string, allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.nodes[player]
	if m == nil {
		m = make(map[string]bool)
		s.nodes[player] = m
	}
	m[node] = allow
}

// Has implements Permissions.
func (s *StaticPermissions) Has(player chatdb.PlayerID, node string, fallbackLevel int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if allow, ok := s.nodes[player][node]; ok {
		return allow
	}
	return s.levels[player] >= fallbackLevel
}
