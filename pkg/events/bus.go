package events

import (
	"sync"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-player pub/sub event bus with support for global subscribers.
// It is the engine's message sink: every rendered message becomes an Event,
// and each subscriber (a session, a chat logger, a relay) encodes it for its
// own transport.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chatdb.PlayerID][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chatdb.PlayerID][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific player's events.
func (b *Bus) Subscribe(player chatdb.PlayerID, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[player] = append(b.subscribers[player], sub)
}

// Unsubscribe removes a subscriber for a specific player.
func (b *Bus) Unsubscribe(player chatdb.PlayerID, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[player]
	for i, s := range subs {
		if s == sub {
			b.subscribers[player] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[player]) == 0 {
		delete(b.subscribers, player)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the player specified in ev.Player and all global subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Player]
	globals := b.global
	b.mu.RUnlock()

	deliver(subs, ev)
	deliver(globals, ev)
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

func eventFor(to chatdb.PlayerID, msg chatdb.Message) Event {
	return Event{
		Type:    typeFor(msg.Kind),
		Player:  to,
		Source:  msg.Source,
		Channel: msg.Channel,
		Text:    msg.Plain(),
		Message: msg,
	}
}

// Send delivers a rendered message to one player.
func (b *Bus) Send(to chatdb.PlayerID, msg chatdb.Message) {
	b.Emit(eventFor(to, msg))
}

// Broadcast delivers a message to every subscribed player. Global
// subscribers see it once, with no recipient.
func (b *Bus) Broadcast(msg chatdb.Message) {
	ev := eventFor("", msg)
	ev.Type = EvBroadcast

	b.mu.RLock()
	players := make(map[chatdb.PlayerID][]Subscriber, len(b.subscribers))
	for p, subs := range b.subscribers {
		players[p] = subs
	}
	globals := b.global
	b.mu.RUnlock()

	for p, subs := range players {
		playerEv := ev
		playerEv.Player = p
		deliver(subs, playerEv)
	}
	deliver(globals, ev)
}

// PlayerSubscribers returns the number of subscribers for a player.
func (b *Bus) PlayerSubscribers(player chatdb.PlayerID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[player])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for player, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, player)
		} else {
			b.subscribers[player] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}
