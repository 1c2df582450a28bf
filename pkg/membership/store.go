package membership

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
)

// Persistence keys.
const (
	KeyJoined = "joinedChannels"
	KeyFocus  = "focusedChannel"
	KeyMature = "matureWarned"
)

// Persisted is a player's saved channel state as read back from the KV.
type Persisted struct {
	Joined     map[string]struct{}
	Focus      string // channel name, "" = none saved
	MatureSeen map[string]struct{}
}

// slot guards one online player's record. Writers hold mu; readers load rec
// without locking. gone is set once the player has been dropped.
type slot struct {
	mu   sync.Mutex
	rec  atomic.Pointer[chatdb.MembershipRecord]
	gone bool
}

// Store holds the records of online players, one independently locked slot
// per player, and writes every committed change through to the KV.
type Store struct {
	kv    platform.KV
	slots sync.Map // chatdb.PlayerID -> *slot
}

// NewStore returns a store persisting to kv.
func NewStore(kv platform.KV) *Store {
	return &Store{kv: kv}
}

// Persisted reads a player's saved state. Absent keys yield empty values.
func (s *Store) Persisted(player chatdb.PlayerID) Persisted {
	p := Persisted{
		Joined:     map[string]struct{}{},
		MatureSeen: map[string]struct{}{},
	}
	if s.kv.Has(player, KeyJoined) {
		p.Joined = chatdb.DecodeChannelSet(s.kv.GetString(player, KeyJoined))
	}
	if s.kv.Has(player, KeyFocus) {
		p.Focus = s.kv.GetString(player, KeyFocus)
	}
	if s.kv.Has(player, KeyMature) {
		p.MatureSeen = chatdb.DecodeChannelSet(s.kv.GetString(player, KeyMature))
	}
	return p
}

// Put installs rec as the player's live record and persists it.
func (s *Store) Put(rec *chatdb.MembershipRecord) {
	for {
		actual, _ := s.slots.LoadOrStore(rec.Player, &slot{})
		sl := actual.(*slot)
		sl.mu.Lock()
		if sl.gone {
			// Lost a race with Drop; the slot is already unlinked.
			sl.mu.Unlock()
			continue
		}
		sl.rec.Store(rec)
		s.persist(rec)
		sl.mu.Unlock()
		return
	}
}

// Snapshot returns a copy of the player's live record.
func (s *Store) Snapshot(player chatdb.PlayerID) (*chatdb.MembershipRecord, bool) {
	v, ok := s.slots.Load(player)
	if !ok {
		return nil, false
	}
	rec := v.(*slot).rec.Load()
	if rec == nil {
		return nil, false
	}
	return rec.Clone(), true
}

// Update applies fn to a copy of the player's record. If fn returns nil the
// copy replaces the live record and is persisted; otherwise nothing changes.
func (s *Store) Update(player chatdb.PlayerID, fn func(rec *chatdb.MembershipRecord) error) (*chatdb.MembershipRecord, error) {
	v, ok := s.slots.Load(player)
	if !ok {
		return nil, ErrNotOnline
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	cur := sl.rec.Load()
	if sl.gone || cur == nil {
		return nil, ErrNotOnline
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	sl.rec.Store(next)
	s.persist(next)
	return next.Clone(), nil
}

// Drop persists and removes the player's live record.
func (s *Store) Drop(player chatdb.PlayerID) (*chatdb.MembershipRecord, bool) {
	v, ok := s.slots.Load(player)
	if !ok {
		return nil, false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.gone {
		return nil, false
	}
	rec := sl.rec.Load()
	if rec != nil {
		s.persist(rec)
	}
	sl.gone = true
	s.slots.CompareAndDelete(player, sl)
	return rec, rec != nil
}

// Online returns the players with a live record.
func (s *Store) Online() []chatdb.PlayerID {
	var out []chatdb.PlayerID
	s.slots.Range(func(k, v any) bool {
		if v.(*slot).rec.Load() != nil {
			out = append(out, k.(chatdb.PlayerID))
		}
		return true
	})
	return out
}

// Each calls fn with a snapshot of every live record.
func (s *Store) Each(fn func(rec *chatdb.MembershipRecord)) {
	s.slots.Range(func(_, v any) bool {
		if rec := v.(*slot).rec.Load(); rec != nil {
			fn(rec.Clone())
		}
		return true
	})
}

// SaveAll persists every live record and returns how many were written.
func (s *Store) SaveAll() int {
	n := 0
	s.slots.Range(func(_, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		if rec := sl.rec.Load(); !sl.gone && rec != nil {
			s.persist(rec)
			n++
		}
		sl.mu.Unlock()
		return true
	})
	return n
}

// persist writes rec to the KV. DM focus is session-only and clears the
// saved focus. Failures are logged; the live record stays authoritative.
func (s *Store) persist(rec *chatdb.MembershipRecord) {
	if err := s.kv.SetString(rec.Player, KeyJoined, chatdb.EncodeChannelSet(rec.Joined)); err != nil {
		log.Printf("membership: WARNING: persist %s %s: %v", rec.Player, KeyJoined, err)
	}
	if name, ok := chatdb.FocusChannel(rec.Focus); ok {
		if err := s.kv.SetString(rec.Player, KeyFocus, name); err != nil {
			log.Printf("membership: WARNING: persist %s %s: %v", rec.Player, KeyFocus, err)
		}
	} else if err := s.kv.Remove(rec.Player, KeyFocus); err != nil {
		log.Printf("membership: WARNING: clear %s %s: %v", rec.Player, KeyFocus, err)
	}
	if len(rec.MatureSeen) > 0 {
		if err := s.kv.SetString(rec.Player, KeyMature, chatdb.EncodeChannelSet(rec.MatureSeen)); err != nil {
			log.Printf("membership: WARNING: persist %s %s: %v", rec.Player, KeyMature, err)
		}
	}
}
