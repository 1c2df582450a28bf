package membership

import (
	"errors"
	"testing"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
)

func TestStoreUpdateIsAllOrNothing(t *testing.T) {
	kv := platform.NewMemoryKV()
	s := NewStore(kv)
	rec := chatdb.NewMembershipRecord("p")
	rec.Joined["global"] = struct{}{}
	s.Put(rec)

	boom := errors.New("boom")
	_, err := s.Update("p", func(r *chatdb.MembershipRecord) error {
		r.Joined["trade"] = struct{}{}
		r.Focus = chatdb.ChannelFocus{Channel: "trade"}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v", err)
	}
	snap, _ := s.Snapshot("p")
	if snap.IsMember("trade") || snap.Focus != nil {
		t.Errorf("failed update leaked: %+v", snap)
	}
	if kv.GetString("p", KeyJoined) != "global" || kv.Has("p", KeyFocus) {
		t.Error("failed update was persisted")
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s := NewStore(platform.NewMemoryKV())
	s.Put(chatdb.NewMembershipRecord("p"))
	snap, _ := s.Snapshot("p")
	snap.Joined["x"] = struct{}{}
	again, _ := s.Snapshot("p")
	if again.IsMember("x") {
		t.Error("snapshot mutation visible in store")
	}
}

func TestStorePersistFocus(t *testing.T) {
	kv := platform.NewMemoryKV()
	s := NewStore(kv)
	rec := chatdb.NewMembershipRecord("p")
	rec.Joined["global"] = struct{}{}
	rec.Focus = chatdb.ChannelFocus{Channel: "global"}
	s.Put(rec)
	if kv.GetString("p", KeyFocus) != "global" {
		t.Fatalf("focus not persisted")
	}
	s.Update("p", func(r *chatdb.MembershipRecord) error {
		r.Focus = chatdb.DMFocus{Peer: "q"}
		return nil
	})
	if kv.Has("p", KeyFocus) {
		t.Error("DM focus should clear the saved channel focus")
	}

	p := s.Persisted("p")
	if _, ok := p.Joined["global"]; !ok || p.Focus != "" {
		t.Errorf("Persisted = %+v", p)
	}
}

func TestStorePersistedEmpty(t *testing.T) {
	kv := platform.NewMemoryKV()
	kv.SetString("p", KeyJoined, "")
	p := NewStore(kv).Persisted("p")
	if len(p.Joined) != 0 {
		t.Errorf("empty string should decode to empty set, got %v", p.Joined)
	}
}

func TestStoreDropThenPut(t *testing.T) {
	s := NewStore(platform.NewMemoryKV())
	s.Put(chatdb.NewMembershipRecord("p"))
	if _, ok := s.Drop("p"); !ok {
		t.Fatal("Drop found nothing")
	}
	if _, ok := s.Drop("p"); ok {
		t.Error("double Drop succeeded")
	}
	if _, err := s.Update("p", func(*chatdb.MembershipRecord) error { return nil }); !errors.Is(err, ErrNotOnline) {
		t.Errorf("Update after Drop = %v", err)
	}
	s.Put(chatdb.NewMembershipRecord("p"))
	if _, ok := s.Snapshot("p"); !ok {
		t.Error("Put after Drop did not install a record")
	}
}
