package platform

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
)

// Position places a player in a world.
type Position struct {
	World   string
	X, Y, Z float64
}

type rosterEntry struct {
	player Player
	pos    Position
}

// MemoryRoster is a concurrency-safe in-memory roster.
type MemoryRoster struct {
	mu      sync.RWMutex
	players map[chatdb.PlayerID]*rosterEntry
}

// NewMemoryRoster returns an empty roster.
func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{players: make(map[chatdb.PlayerID]*rosterEntry)}
}

// Add marks a player online at pos, replacing any previous entry.
func (r *MemoryRoster) Add(p Player, pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ID] = &rosterEntry{player: p, pos: pos}
}

// Remove marks a player offline.
func (r *MemoryRoster) Remove(id chatdb.PlayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// Move updates an online player's position.
func (r *MemoryRoster) Move(id chatdb.PlayerID, pos Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.players[id]
	if !ok {
		return false
	}
	e.pos = pos
	return true
}

func (r *MemoryRoster) Player(id chatdb.PlayerID) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return e.player, true
}

// PlayerByName matches username or display name, case-insensitively.
func (r *MemoryRoster) PlayerByName(name string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.players {
		if strings.EqualFold(e.player.Username, name) || strings.EqualFold(e.player.DisplayName, name) {
			return e.player, true
		}
	}
	return Player{}, false
}

// Online returns online players ordered by ID.
func (r *MemoryRoster) Online() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, 0, len(r.players))
	for _, e := range r.players {
		out = append(out, e.player)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRoster) Distance(a, b chatdb.PlayerID) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ea, ok := r.players[a]
	if !ok {
		return 0, false
	}
	eb, ok := r.players[b]
	if !ok || ea.pos.World != eb.pos.World {
		return 0, false
	}
	dx := ea.pos.X - eb.pos.X
	dy := ea.pos.Y - eb.pos.Y
	dz := ea.pos.Z - eb.pos.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz), true
}
