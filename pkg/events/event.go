package events

import "github.com/crystal-mush/mushchat/pkg/chatdb"

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvNotice    EventType = iota // Engine notice to one player
	EvChannel                    // Channel message
	EvDirect                     // Direct message
	EvBroadcast                  // Announcement to everyone online
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvNotice:
		return "notice"
	case EvChannel:
		return "channel"
	case EvDirect:
		return "direct"
	case EvBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// typeFor maps a message kind to the event type that carries it.
func typeFor(k chatdb.MessageKind) EventType {
	switch k {
	case chatdb.KindChannel:
		return EvChannel
	case chatdb.KindDirect:
		return EvDirect
	default:
		return EvNotice
	}
}

// Event is a delivered chat message flowing through the bus.
// Transports decide how to encode each event: plain-text clients use Text,
// rich clients use the styled Message.
type Event struct {
	Type    EventType
	Player  chatdb.PlayerID // Recipient ("" for broadcast)
	Source  chatdb.PlayerID // Sender, "" for engine notices
	Channel string          // Channel name (EvChannel)
	Text    string          // Plain text
	Message chatdb.Message
}
