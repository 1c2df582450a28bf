// Package router triages raw chat input into a channel or direct-message
// target and delivers it.
//
// A message may start with a prefix token followed by ':' or ';':
//
//	d:text   reply to whoever last messaged you
//	g:text   send to the default channel
//	s:text   send to the channel whose shortcut is "s"
//
// Anything else goes to the sender's current focus. Prefixes with no text
// after them only change focus.
package router

import (
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/format"
	"github.com/crystal-mush/mushchat/pkg/membership"
	"github.com/crystal-mush/mushchat/pkg/platform"
)

// Reserved prefixes. They shadow any channel shortcut of the same name.
const (
	PrefixReply   = "d"
	PrefixDefault = "g"
)

// Permission nodes granting markup use in chat.
const (
	NodeColor  = "chat.color"
	NodeFormat = "chat.format"
)

const genericFailure = "&cAn error occurred while sending your message."

// Deps are the host collaborators the router talks to.
type Deps struct {
	Roster      platform.Roster
	Sink        platform.Sink
	Renderer    platform.Renderer
	Permissions platform.Permissions
	Recorder    platform.Recorder
	// MarkupLevel is the fallback level for the markup permission nodes.
	MarkupLevel int
}

// Router dispatches chat.
type Router struct {
	mgr  *membership.Manager
	fmt  atomic.Pointer[format.Formatter]
	deps Deps
}

// New returns a Router. Nil Permissions and Recorder fall back to AllowAll
// and NopRecorder.
func New(mgr *membership.Manager, f *format.Formatter, deps Deps) *Router {
	if deps.Permissions == nil {
		deps.Permissions = platform.AllowAll{}
	}
	if deps.Recorder == nil {
		deps.Recorder = platform.NopRecorder{}
	}
	r := &Router{mgr: mgr, deps: deps}
	r.fmt.Store(f)
	return r
}

// SetFormatter swaps the formatter used for subsequent messages.
func (r *Router) SetFormatter(f *format.Formatter) { r.fmt.Store(f) }

// ParsePrefix splits "tok:rest" or "tok;rest" at the first ':' or ';'.
// ok is false when there is no separator or it is the first character.
func ParsePrefix(text string) (prefix, rest string, ok bool) {
	i := strings.IndexAny(text, ":;")
	if i <= 0 {
		return "", text, false
	}
	return text[:i], strings.TrimSpace(text[i+1:]), true
}

// Handle routes one line of chat from sender. It never panics and never
// returns an error: expected failures have already been reported to the
// sender, anything else is logged and reported generically.
func (r *Router) Handle(sender chatdb.PlayerID, text string) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("PANIC in chat dispatch (player=%s text=%q): %v\n%s", sender, text, p, debug.Stack())
			r.fail(sender)
		}
	}()
	if err := r.route(sender, text); err != nil && !membership.IsOutcome(err) {
		log.Printf("router: dispatch failed (player=%s text=%q): %v", sender, text, err)
		r.fail(sender)
	}
}

func (r *Router) fail(sender chatdb.PlayerID) {
	r.deps.Recorder.DispatchError()
	r.notify(sender, genericFailure)
}

func (r *Router) notify(player chatdb.PlayerID, msgFmt string, args ...any) {
	msg := r.deps.Renderer.RenderSystem(fmt.Sprintf(msgFmt, args...))
	msg.Kind = chatdb.KindSystem
	r.deps.Sink.Send(player, msg)
}

// Caps resolves a player's markup permissions.
func (r *Router) Caps(player chatdb.PlayerID) platform.Caps {
	return platform.Caps{
		Color:  r.deps.Permissions.Has(player, NodeColor, r.deps.MarkupLevel),
		Format: r.deps.Permissions.Has(player, NodeFormat, r.deps.MarkupLevel),
	}
}

func (r *Router) route(sender chatdb.PlayerID, text string) error {
	p, ok := r.deps.Roster.Player(sender)
	if !ok {
		return membership.ErrNotOnline
	}
	target, msg, done, err := r.triage(sender, text)
	if err != nil || done {
		return err
	}
	if target == nil {
		if target, err = r.fallback(sender); err != nil {
			return err
		}
	}
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	switch t := target.(type) {
	case chatdb.DMFocus:
		return r.sendDM(p, t.Peer, msg)
	case chatdb.ChannelFocus:
		return r.sendChannel(p, t.Channel, msg)
	}
	return fmt.Errorf("router: unhandled focus %T", target)
}

// triage resolves a leading prefix. A nil target with done false means no
// prefix applied and msg is the whole text.
func (r *Router) triage(sender chatdb.PlayerID, text string) (target chatdb.Focus, msg string, done bool, err error) {
	prefix, rest, ok := ParsePrefix(text)
	if !ok {
		return nil, text, false, nil
	}
	switch strings.ToLower(prefix) {
	case PrefixReply:
		if err := r.mgr.Reply(sender); err != nil {
			return nil, "", true, err
		}
		if rest == "" {
			return nil, "", true, nil
		}
		rec, ok := r.mgr.Record(sender)
		if !ok {
			return nil, "", true, membership.ErrNotOnline
		}
		peer, ok := chatdb.FocusPeer(rec.Focus)
		if !ok {
			return nil, "", true, nil
		}
		return chatdb.DMFocus{Peer: peer}, rest, false, nil

	case PrefixDefault:
		cfg, err := r.mgr.ForceFocusDefault(sender)
		if err != nil {
			return nil, "", true, err
		}
		if rest == "" {
			r.notify(sender, "&aYou are now chatting in %s.", cfg.Name)
			return nil, "", true, nil
		}
		return chatdb.ChannelFocus{Channel: cfg.Name}, rest, false, nil
	}

	cfg, ok := r.mgr.Registry().ByShortcut(prefix)
	if !ok {
		return nil, text, false, nil
	}
	if err := r.mgr.Focus(sender, cfg.Name); err != nil {
		return nil, "", true, err
	}
	if rest == "" {
		return nil, "", true, nil
	}
	return chatdb.ChannelFocus{Channel: cfg.Name}, rest, false, nil
}

// fallback returns the sender's focus, forcing the default channel when
// there is none.
func (r *Router) fallback(sender chatdb.PlayerID) (chatdb.Focus, error) {
	f, err := r.mgr.ResolveFocus(sender)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}
	cfg, err := r.mgr.ForceFocusDefault(sender)
	if err != nil {
		return nil, err
	}
	r.notify(sender, "&eYou were not focused on any channel, so your message was sent to %s.", cfg.Name)
	return chatdb.ChannelFocus{Channel: cfg.Name}, nil
}

func escape(s string) string { return strings.ReplaceAll(s, "&", "&&") }

func (r *Router) sendDM(sender platform.Player, peer chatdb.PlayerID, text string) error {
	target, ok := r.deps.Roster.Player(peer)
	if !ok {
		r.notify(sender.ID, "&cThat player is not online.")
		return membership.ErrTargetOffline
	}
	body := r.deps.Renderer.RenderLinks(text, r.Caps(sender.ID))

	echo := r.deps.Renderer.RenderSystem("&d[You → " + escape(target.NameFor(chatdb.NameDisplay)) + "]&r ")
	echo.AppendMessage(body)
	echo.Kind, echo.Source = chatdb.KindDirect, sender.ID

	in := r.deps.Renderer.RenderSystem("&d[" + escape(sender.NameFor(chatdb.NameDisplay)) + " → You]&r ")
	in.AppendMessage(body)
	in.Kind, in.Source = chatdb.KindDirect, sender.ID

	r.deps.Sink.Send(sender.ID, echo)
	r.deps.Sink.Send(peer, in)
	r.mgr.RecordDM(sender.ID, peer)
	r.deps.Recorder.MessageRouted("direct")
	r.deps.Recorder.Delivered(format.DeliverFull.String())
	return nil
}

func (r *Router) sendChannel(sender platform.Player, name, text string) error {
	cfg, ok := r.mgr.Registry().ByName(name)
	if !ok {
		r.notify(sender.ID, "&cChannel %s not found.", name)
		return membership.ErrChannelNotFound
	}
	if !r.mgr.RecheckPermission(sender.ID, cfg) {
		return membership.ErrNoPermission
	}
	f := r.fmt.Load()
	rendered := f.Channel(cfg, sender, text, r.Caps(sender.ID))
	if rendered.Empty {
		return nil
	}
	r.deps.Recorder.MessageRouted("channel")

	for _, member := range r.mgr.Members(cfg.Name) {
		self := member == sender.ID
		if !self && !r.mgr.RecheckPermission(member, cfg) {
			continue
		}
		d, measurable := 0.0, true
		if !self && rendered.Range >= 0 {
			d, measurable = r.deps.Roster.Distance(sender.ID, member)
		}
		msg, mode := f.ForRecipient(rendered, self, d, measurable)
		r.deps.Recorder.Delivered(mode.String())
		if mode == format.DeliverSuppressed {
			continue
		}
		r.deps.Sink.Send(member, msg)
	}
	return nil
}
