// Package membership tracks which channels each online player has joined and
// where their chat is focused, and reconciles that state against channel
// permissions.
package membership

import (
	"errors"
	"fmt"
	"log"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/crystal-mush/mushchat/pkg/registry"
)

// Deps are the host collaborators the manager talks to.
type Deps struct {
	Roster      platform.Roster
	Sink        platform.Sink
	Renderer    platform.Renderer
	Permissions platform.Permissions
	Recorder    platform.Recorder
	// PermissionLevel is the numeric fallback level for channel permission nodes.
	PermissionLevel int
}

// Manager implements the per-player membership and focus state machine.
// Every operation validates fully, then commits one record update, then
// notifies. A failed operation leaves the record untouched.
type Manager struct {
	reg   *registry.Registry
	store *Store
	deps  Deps
}

// NewManager wires a manager. Nil Permissions and Recorder fall back to
// AllowAll and NopRecorder.
func NewManager(reg *registry.Registry, store *Store, deps Deps) *Manager {
	if deps.Permissions == nil {
		deps.Permissions = platform.AllowAll{}
	}
	if deps.Recorder == nil {
		deps.Recorder = platform.NopRecorder{}
	}
	return &Manager{reg: reg, store: store, deps: deps}
}

// Registry returns the channel registry the manager validates against.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Allowed reports whether player may be a member of cfg.
func (m *Manager) Allowed(player chatdb.PlayerID, cfg chatdb.ChannelConfig) bool {
	if !cfg.Gated() {
		return true
	}
	return m.deps.Permissions.Has(player, cfg.Permission, m.deps.PermissionLevel)
}

func (m *Manager) notify(player chatdb.PlayerID, format string, args ...any) {
	msg := m.deps.Renderer.RenderSystem(fmt.Sprintf(format, args...))
	msg.Kind = chatdb.KindSystem
	m.deps.Sink.Send(player, msg)
}

func (m *Manager) warnMature(player chatdb.PlayerID, channels []string) {
	for _, name := range channels {
		m.notify(player, "&c&lWarning:&r&c %s is marked as a mature channel and may contain content not suitable for everyone.", name)
	}
}

func (m *Manager) playerName(id chatdb.PlayerID) string {
	if p, ok := m.deps.Roster.Player(id); ok {
		return p.NameFor(chatdb.NameDisplay)
	}
	return string(id)
}

// takeMature marks and returns joined mature channels not yet warned about.
func (m *Manager) takeMature(rec *chatdb.MembershipRecord) []string {
	var out []string
	for _, name := range rec.JoinedNames() {
		cfg, ok := m.reg.ByName(name)
		if !ok || !cfg.Mature {
			continue
		}
		if _, seen := rec.MatureSeen[cfg.Name]; seen {
			continue
		}
		rec.MatureSeen[cfg.Name] = struct{}{}
		out = append(out, cfg.Name)
	}
	return out
}

// assignDefault points rec at the default channel, force-joining it. When the
// default is the channel being removed (exclude), the first other joined
// channel is used instead, always-on channels first. Returns the new focus
// channel, or "" if none could be found.
func (m *Manager) assignDefault(rec *chatdb.MembershipRecord, exclude string) string {
	if def, ok := m.reg.Default(); ok && def.Name != exclude {
		rec.Joined[def.Name] = struct{}{}
		rec.Focus = chatdb.ChannelFocus{Channel: def.Name}
		return def.Name
	}
	for _, c := range m.reg.AlwaysOn() {
		if c.Name != exclude && rec.IsMember(c.Name) {
			rec.Focus = chatdb.ChannelFocus{Channel: c.Name}
			return c.Name
		}
	}
	for _, name := range rec.JoinedNames() {
		if name != exclude {
			rec.Focus = chatdb.ChannelFocus{Channel: name}
			return name
		}
	}
	rec.Focus = nil
	return ""
}

// Login builds the player's live record from persisted state: unknown
// channels are dropped, always-on channels are force-joined, gated channels
// the player lost access to are left, and an invalid focus is replaced by
// the default channel.
func (m *Manager) Login(player chatdb.PlayerID) *chatdb.MembershipRecord {
	saved := m.store.Persisted(player)
	rec := chatdb.NewMembershipRecord(player)
	rec.MatureSeen = saved.MatureSeen

	var lost []string
	for name := range saved.Joined {
		cfg, ok := m.reg.ByName(name)
		if !ok {
			continue
		}
		if !m.Allowed(player, cfg) {
			lost = append(lost, cfg.Name)
			continue
		}
		rec.Joined[cfg.Name] = struct{}{}
	}
	for _, cfg := range m.reg.AlwaysOn() {
		rec.Joined[cfg.Name] = struct{}{}
	}
	if saved.Focus != "" {
		if cfg, ok := m.reg.ByName(saved.Focus); ok && rec.IsMember(cfg.Name) {
			rec.Focus = chatdb.ChannelFocus{Channel: cfg.Name}
		}
	}
	if rec.Focus == nil {
		m.assignDefault(rec, "")
	}
	mature := m.takeMature(rec)
	m.store.Put(rec)

	for _, name := range lost {
		m.deps.Recorder.AutoLeft(name)
		m.notify(player, "&eYou were removed from %s: you no longer have permission to use it.", name)
	}
	m.warnMature(player, mature)
	log.Printf("membership: %s logged in with %d channels, focus %v", player, len(rec.Joined), rec.Focus)
	return rec.Clone()
}

// Logout persists and drops the player's record. Players DM-focused on them
// are moved back to their default channel.
func (m *Manager) Logout(player chatdb.PlayerID) {
	if _, ok := m.store.Drop(player); !ok {
		return
	}
	name := m.playerName(player)
	for _, other := range m.store.Online() {
		var now string
		_, err := m.store.Update(other, func(rec *chatdb.MembershipRecord) error {
			if peer, ok := chatdb.FocusPeer(rec.Focus); !ok || peer != player {
				return errNoChange
			}
			now = m.assignDefault(rec, "")
			return nil
		})
		if err == nil {
			m.notify(other, "&e%s went offline. You are now chatting in %s.", name, now)
		}
	}
}

// errNoChange aborts an update that turned out to be unnecessary.
var errNoChange = errors.New("no change")

// Join adds player to the named channel.
func (m *Manager) Join(player chatdb.PlayerID, name string) error {
	cfg, ok := m.reg.ByName(name)
	if !ok {
		m.notify(player, "&cChannel %s not found.", name)
		return ErrChannelNotFound
	}
	var mature []string
	_, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
		if rec.IsMember(cfg.Name) {
			return ErrAlreadyJoined
		}
		if !m.Allowed(player, cfg) {
			return ErrNoPermission
		}
		rec.Joined[cfg.Name] = struct{}{}
		mature = m.takeMature(rec)
		return nil
	})
	switch {
	case errors.Is(err, ErrAlreadyJoined):
		m.notify(player, "&eYou are already in %s.", cfg.Name)
	case errors.Is(err, ErrNoPermission):
		m.notify(player, "&cYou do not have permission to join %s.", cfg.Name)
	case err == nil:
		m.notify(player, "&aYou joined %s.", cfg.Name)
		m.warnMature(player, mature)
	}
	return err
}

// Leave removes player from the named channel. Always-on channels cannot be
// left. Leaving the focused channel moves focus to the default.
func (m *Manager) Leave(player chatdb.PlayerID, name string) error {
	cfg, ok := m.reg.ByName(name)
	if !ok {
		m.notify(player, "&cChannel %s not found.", name)
		return ErrChannelNotFound
	}
	if cfg.AlwaysOn {
		m.notify(player, "&cYou cannot leave %s.", cfg.Name)
		return ErrAlwaysOn
	}
	now, err := m.remove(player, cfg.Name)
	switch {
	case errors.Is(err, ErrNotJoined):
		m.notify(player, "&cYou are not in %s.", cfg.Name)
	case err == nil:
		m.notify(player, "&aYou left %s.", cfg.Name)
		if now != "" {
			m.notify(player, "&eYou are now chatting in %s.", now)
		}
	}
	return err
}

// remove drops membership and, if it was the focus, reassigns it. The
// returned name is the new focus channel when focus moved.
func (m *Manager) remove(player chatdb.PlayerID, channel string) (string, error) {
	var now string
	_, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
		if !rec.IsMember(channel) {
			return ErrNotJoined
		}
		delete(rec.Joined, channel)
		if rec.FocusedOn(channel) {
			now = m.assignDefault(rec, channel)
		}
		return nil
	})
	return now, err
}

// Focus points player at the named channel, joining it first if needed.
func (m *Manager) Focus(player chatdb.PlayerID, name string) error {
	cfg, ok := m.reg.ByName(name)
	if !ok {
		m.notify(player, "&cChannel %s not found.", name)
		return ErrChannelNotFound
	}
	var joined, changed bool
	var mature []string
	_, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
		if !rec.IsMember(cfg.Name) {
			if !m.Allowed(player, cfg) {
				return ErrNoPermission
			}
			rec.Joined[cfg.Name] = struct{}{}
			joined = true
		}
		focus := chatdb.ChannelFocus{Channel: cfg.Name}
		changed = rec.Focus != focus
		rec.Focus = focus
		mature = m.takeMature(rec)
		return nil
	})
	switch {
	case errors.Is(err, ErrNoPermission):
		m.notify(player, "&cYou do not have permission to join %s.", cfg.Name)
	case err == nil:
		if joined {
			m.notify(player, "&aYou joined %s.", cfg.Name)
		}
		m.warnMature(player, mature)
		if changed {
			m.notify(player, "&aYou are now chatting in %s.", cfg.Name)
		}
	}
	return err
}

// FocusDM points player at an online peer.
func (m *Manager) FocusDM(player, peer chatdb.PlayerID) error {
	target, ok := m.deps.Roster.Player(peer)
	if !ok {
		m.notify(player, "&cThat player is not online.")
		return ErrTargetOffline
	}
	if peer == player {
		m.notify(player, "&cYou cannot message yourself.")
		return ErrInvalidTarget
	}
	_, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
		rec.Focus = chatdb.DMFocus{Peer: peer}
		return nil
	})
	if err == nil {
		m.notify(player, "&aYou are now messaging %s.", target.NameFor(chatdb.NameDisplay))
	}
	return err
}

// FocusDMByName resolves name through the roster and calls FocusDM.
func (m *Manager) FocusDMByName(player chatdb.PlayerID, name string) error {
	target, ok := m.deps.Roster.PlayerByName(name)
	if !ok {
		m.notify(player, "&cThat player is not online.")
		return ErrTargetOffline
	}
	return m.FocusDM(player, target.ID)
}

// Reply focuses player on whoever last messaged them. If they are already
// focused on that player nothing changes.
func (m *Manager) Reply(player chatdb.PlayerID) error {
	rec, ok := m.store.Snapshot(player)
	if !ok {
		return ErrNotOnline
	}
	if rec.LastIncomingDM == "" {
		m.notify(player, "&eYou have nobody to reply to.")
		return ErrNothingToReply
	}
	if peer, ok := chatdb.FocusPeer(rec.Focus); ok && peer == rec.LastIncomingDM {
		return nil
	}
	return m.FocusDM(player, rec.LastIncomingDM)
}

// AutoLeave removes player from a channel they may no longer use and tells
// them why. It is a no-op if they are not a member.
func (m *Manager) AutoLeave(player chatdb.PlayerID, channel, reason string) error {
	now, err := m.remove(player, channel)
	if err != nil {
		return err
	}
	m.deps.Recorder.AutoLeft(channel)
	log.Printf("membership: auto-left %s from %s: %s", player, channel, reason)
	m.notify(player, "&eYou were removed from %s: %s.", channel, reason)
	if now != "" {
		m.notify(player, "&eYou are now chatting in %s.", now)
	}
	return nil
}

// RecheckPermission re-validates player's access to cfg at send time,
// auto-leaving them if it was lost.
func (m *Manager) RecheckPermission(player chatdb.PlayerID, cfg chatdb.ChannelConfig) bool {
	if m.Allowed(player, cfg) {
		return true
	}
	m.AutoLeave(player, cfg.Name, "you no longer have permission to use it")
	return false
}

// Kick removes target from a channel on behalf of executor, whose admin
// privilege the caller has already checked. Always-on channels refuse.
func (m *Manager) Kick(target chatdb.PlayerID, name string, executor chatdb.PlayerID) error {
	cfg, ok := m.reg.ByName(name)
	if !ok {
		m.notify(executor, "&cChannel %s not found.", name)
		return ErrChannelNotFound
	}
	if cfg.AlwaysOn {
		m.notify(executor, "&cPlayers cannot be removed from %s.", cfg.Name)
		return ErrAlwaysOn
	}
	targetName := m.playerName(target)
	now, err := m.remove(target, cfg.Name)
	switch {
	case errors.Is(err, ErrNotOnline):
		m.notify(executor, "&c%s is not online.", targetName)
	case errors.Is(err, ErrNotJoined):
		m.notify(executor, "&c%s is not in %s.", targetName, cfg.Name)
	case err == nil:
		log.Printf("membership: %s kicked %s from %s", executor, target, cfg.Name)
		m.notify(target, "&eYou were removed from %s by %s.", cfg.Name, m.playerName(executor))
		if now != "" {
			m.notify(target, "&eYou are now chatting in %s.", now)
		}
		m.notify(executor, "&aRemoved %s from %s.", targetName, cfg.Name)
	}
	return err
}

// ForceFocusDefault joins and focuses the default channel.
func (m *Manager) ForceFocusDefault(player chatdb.PlayerID) (chatdb.ChannelConfig, error) {
	def, ok := m.reg.Default()
	if !ok {
		m.notify(player, "&cNo default channel is configured.")
		return chatdb.ChannelConfig{}, ErrNoDefaultChannel
	}
	var mature []string
	_, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
		rec.Joined[def.Name] = struct{}{}
		rec.Focus = chatdb.ChannelFocus{Channel: def.Name}
		mature = m.takeMature(rec)
		return nil
	})
	if err != nil {
		return chatdb.ChannelConfig{}, err
	}
	m.warnMature(player, mature)
	return def, nil
}

// ResolveFocus returns the player's focus, first repairing one that is no
// longer valid (channel left or gone, DM peer offline). A nil focus with a
// nil error means the player has no focus at all.
func (m *Manager) ResolveFocus(player chatdb.PlayerID) (chatdb.Focus, error) {
	rec, ok := m.store.Snapshot(player)
	if !ok {
		return nil, ErrNotOnline
	}
	switch f := rec.Focus.(type) {
	case nil:
		return nil, nil
	case chatdb.ChannelFocus:
		if cfg, ok := m.reg.ByName(f.Channel); ok && rec.IsMember(cfg.Name) {
			return f, nil
		}
	case chatdb.DMFocus:
		if _, ok := m.deps.Roster.Player(f.Peer); ok {
			return f, nil
		}
	}

	stale := rec.Focus
	var now string
	updated, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
		now = m.assignDefault(rec, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if peer, ok := chatdb.FocusPeer(stale); ok {
		m.notify(player, "&e%s is no longer online. You are now chatting in %s.", m.playerName(peer), now)
	} else if now != "" {
		m.notify(player, "&eYour chat focus is no longer available. You are now chatting in %s.", now)
	}
	return updated.Focus, nil
}

// RecordDM notes a delivered direct message for reply tracking.
func (m *Manager) RecordDM(sender, target chatdb.PlayerID) {
	m.store.Update(sender, func(rec *chatdb.MembershipRecord) error {
		rec.LastOutgoingDM = target
		return nil
	})
	m.store.Update(target, func(rec *chatdb.MembershipRecord) error {
		rec.LastIncomingDM = sender
		return nil
	})
}

// ReconcileAll re-validates every online player against the current
// registry: removed channels are dropped, lost permissions auto-leave,
// always-on channels are force-joined and invalid focus is reassigned.
func (m *Manager) ReconcileAll() {
	alwaysOn := m.reg.AlwaysOn()
	for _, player := range m.store.Online() {
		var lost, gone, mature []string
		var now string
		_, err := m.store.Update(player, func(rec *chatdb.MembershipRecord) error {
			for _, name := range rec.JoinedNames() {
				cfg, ok := m.reg.ByName(name)
				switch {
				case !ok:
					delete(rec.Joined, name)
					gone = append(gone, name)
				case cfg.Name != name:
					// Renamed in case only; keep the canonical spelling.
					delete(rec.Joined, name)
					rec.Joined[cfg.Name] = struct{}{}
					if rec.FocusedOn(name) {
						rec.Focus = chatdb.ChannelFocus{Channel: cfg.Name}
					}
				case !m.Allowed(player, cfg):
					delete(rec.Joined, name)
					lost = append(lost, name)
				}
			}
			for _, cfg := range alwaysOn {
				rec.Joined[cfg.Name] = struct{}{}
			}
			switch f := rec.Focus.(type) {
			case nil:
				now = m.assignDefault(rec, "")
			case chatdb.ChannelFocus:
				if !rec.IsMember(f.Channel) {
					now = m.assignDefault(rec, "")
				}
			}
			mature = m.takeMature(rec)
			return nil
		})
		if err != nil {
			continue
		}
		for _, name := range gone {
			m.notify(player, "&eChannel %s no longer exists.", name)
		}
		for _, name := range lost {
			m.deps.Recorder.AutoLeft(name)
			m.notify(player, "&eYou were removed from %s: you no longer have permission to use it.", name)
		}
		if now != "" && (len(gone) > 0 || len(lost) > 0) {
			m.notify(player, "&eYou are now chatting in %s.", now)
		}
		m.warnMature(player, mature)
	}
}

// Record returns a snapshot of the player's live record.
func (m *Manager) Record(player chatdb.PlayerID) (*chatdb.MembershipRecord, bool) {
	return m.store.Snapshot(player)
}

// Members returns the online members of a channel.
func (m *Manager) Members(channel string) []chatdb.PlayerID {
	var out []chatdb.PlayerID
	m.store.Each(func(rec *chatdb.MembershipRecord) {
		if rec.IsMember(channel) {
			out = append(out, rec.Player)
		}
	})
	return out
}

// Online returns the players with a live record.
func (m *Manager) Online() []chatdb.PlayerID { return m.store.Online() }

// SaveAll flushes every live record to the KV.
func (m *Manager) SaveAll() int { return m.store.SaveAll() }
