// Package platform declares what the chat engine needs from its host: player
// lookup, message delivery, markup rendering, permission checks and durable
// per-player storage. Hosts supply implementations; the in-memory ones here
// back tests and the chanctl tool.
package platform

import "github.com/crystal-mush/mushchat/pkg/chatdb"

// Player is an online player as seen by the engine.
type Player struct {
	ID          chatdb.PlayerID
	Username    string
	DisplayName string
	Nickname    string
}

// NameFor returns the player's name in the given style.
func (p Player) NameFor(style chatdb.NameStyle) string {
	switch style {
	case chatdb.NameUsername:
		return p.Username
	case chatdb.NameNickname:
		if p.Nickname != "" {
			return p.Nickname
		}
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Roster resolves online players and their relative positions.
type Roster interface {
	Player(id chatdb.PlayerID) (Player, bool)
	PlayerByName(name string) (Player, bool)
	Online() []Player
	// Distance returns the straight-line distance between two online
	// players. ok is false when they are not in the same world/zone.
	Distance(a, b chatdb.PlayerID) (d float64, ok bool)
}

// Sink delivers rendered messages.
type Sink interface {
	Send(to chatdb.PlayerID, msg chatdb.Message)
	Broadcast(msg chatdb.Message)
}

// Caps are a sender's resolved markup permissions.
type Caps struct {
	Color  bool
	Format bool
}

// Renderer turns markup text into a message tree. Codes the caps do not
// allow are ignored, not reported.
type Renderer interface {
	Render(text string, caps Caps) chatdb.Message
	RenderLinks(text string, caps Caps) chatdb.Message
	RenderSystem(text string) chatdb.Message
}

// Permissions answers permission-node checks. fallbackLevel is the numeric
// privilege level to require when no rich permission backend is present.
type Permissions interface {
	Has(player chatdb.PlayerID, node string, fallbackLevel int) bool
}

// KV is durable per-player string storage. A missing key means no saved value.
type KV interface {
	Has(player chatdb.PlayerID, key string) bool
	GetString(player chatdb.PlayerID, key string) string
	SetString(player chatdb.PlayerID, key, value string) error
	Remove(player chatdb.PlayerID, key string) error
}

// Recorder receives engine metrics.
type Recorder interface {
	MessageRouted(target string)
	Delivered(mode string)
	AutoLeft(channel string)
	DispatchError()
}

// NopRecorder discards metrics.
type NopRecorder struct{}

func (NopRecorder) MessageRouted(string) {}
func (NopRecorder) Delivered(string)     {}
func (NopRecorder) AutoLeft(string)      {}
func (NopRecorder) DispatchError()       {}

// Entry is one stored per-player value.
type Entry struct {
	Player chatdb.PlayerID
	Key    string
	Value  string
}

// Exporter is a KV that can enumerate everything it holds.
type Exporter interface {
	ForEach(fn func(player chatdb.PlayerID, key, value string) error) error
}
