package events

import (
	"log"
	"sync/atomic"
)

// ChatLog is a global subscriber that writes channel traffic and
// announcements to the standard logger. Notices and per-recipient copies
// are skipped: a channel message is logged once, from the sender's own copy.
type ChatLog struct {
	closed atomic.Bool
	// Direct includes direct messages when set.
	Direct bool
}

// Receive logs ev if it is the canonical copy of a message.
func (c *ChatLog) Receive(ev Event) {
	switch ev.Type {
	case EvChannel:
		if ev.Player == ev.Source {
			log.Printf("chatlog: [%s] %s", ev.Channel, ev.Text)
		}
	case EvDirect:
		if c.Direct && ev.Player == ev.Source {
			log.Printf("chatlog: [dm] %s", ev.Text)
		}
	case EvBroadcast:
		if ev.Player == "" {
			log.Printf("chatlog: [announce] %s", ev.Text)
		}
	}
}

// Closed reports whether Close was called.
func (c *ChatLog) Closed() bool { return c.closed.Load() }

// Close stops further logging.
func (c *ChatLog) Close() { c.closed.Store(true) }
