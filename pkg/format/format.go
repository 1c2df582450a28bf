// Package format renders channel messages, including the proximity ("local")
// channel's suffix verbs and distance-based obscuring.
package format

import (
	"math/rand/v2"
	"strings"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
)

// Delivery is how a rendered message reaches one recipient.
type Delivery int

const (
	DeliverFull Delivery = iota
	DeliverObscured
	DeliverSuppressed
)

func (d Delivery) String() string {
	switch d {
	case DeliverObscured:
		return "obscured"
	case DeliverSuppressed:
		return "suppressed"
	default:
		return "full"
	}
}

// oocColor is the muted markup used for out-of-character messages.
const oocColor = "&7"

// Roleplay quote styles.
var (
	quoteMarkStyle = chatdb.Segment{Color: "dark_gray"}
	narrationStyle = chatdb.Segment{Bold: true}
)

// Rendered is a channel message built once per send. Head is never
// obscured; Body is, for out-of-range recipients.
type Rendered struct {
	Channel   string
	Source    chatdb.PlayerID
	Head      chatdb.Message
	Body      chatdb.Message
	BodyStyle chatdb.Segment
	Range     int // < 0 = unbounded
	Roleplay  bool
	// Empty is set when a suffix consumed the whole message; nothing is sent.
	Empty bool
}

// Full returns the complete, unobscured message.
func (r Rendered) Full() chatdb.Message {
	m := chatdb.Message{Kind: chatdb.KindChannel, Channel: r.Channel, Source: r.Source}
	m.AppendMessage(r.Head)
	m.AppendMessage(r.Body)
	return m
}

// Formatter renders channel messages.
type Formatter struct {
	renderer platform.Renderer
	params   Params
	rand     func() float64
}

// New returns a Formatter using the given markup renderer and obscuring params.
func New(renderer platform.Renderer, params Params) *Formatter {
	return &Formatter{renderer: renderer, params: params, rand: rand.Float64}
}

// WithRand replaces the random source used for obscuring.
func (f *Formatter) WithRand(fn func() float64) *Formatter {
	c := *f
	c.rand = fn
	return &c
}

// Params returns the obscuring parameters.
func (f *Formatter) Params() Params { return f.params }

func (f *Formatter) style(codes string) chatdb.Segment {
	m := f.renderer.RenderSystem(codes + "x")
	if len(m.Segments) == 0 {
		return chatdb.Segment{}
	}
	return m.Segments[len(m.Segments)-1].Style()
}

func (f *Formatter) system(text string) chatdb.Message {
	return f.renderer.RenderSystem(text)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "&", "&&")
}

// body renders player text with their caps and tints uncolored runs.
func (f *Formatter) body(text string, caps platform.Caps, style chatdb.Segment) chatdb.Message {
	m := f.renderer.RenderLinks(text, caps)
	for i := range m.Segments {
		if m.Segments[i].Color == "" {
			m.Segments[i].Color = style.Color
		}
	}
	return m
}

// Channel renders text sent by sender on cfg.
func (f *Formatter) Channel(cfg chatdb.ChannelConfig, sender platform.Player, text string, caps platform.Caps) Rendered {
	if cfg.IsLocal() {
		return f.local(cfg, sender, text, caps)
	}
	r := Rendered{
		Channel:   cfg.Name,
		Source:    sender.ID,
		BodyStyle: f.style(cfg.MessageColor),
		Range:     cfg.Range,
	}
	r.Head.AppendMessage(f.system(cfg.DisplayPrefix + "&r "))
	r.Head.AppendMessage(f.system(cfg.NameColor + escape(sender.NameFor(cfg.NameStyle))))
	r.Head.AppendMessage(f.system(cfg.SeparatorColor + escape(cfg.Separator)))
	r.Body = f.body(text, caps, r.BodyStyle)
	return r
}

func (f *Formatter) local(cfg chatdb.ChannelConfig, sender platform.Player, text string, caps platform.Caps) Rendered {
	sfx := ParseSuffix(text)
	r := Rendered{
		Channel:   cfg.Name,
		Source:    sender.ID,
		BodyStyle: f.style(cfg.MessageColor),
		Range:     sfx.Range,
	}
	if strings.TrimSpace(sfx.Body) == "" {
		r.Empty = true
		return r
	}
	name := sender.NameFor(cfg.NameStyle)

	switch sfx.Kind {
	case SuffixOOC:
		muted := f.style(oocColor)
		r.Head = f.system(oocColor + "[OOC] " + escape(sender.Username) + " (" + escape(sender.NameFor(chatdb.NameDisplay)) + "): ")
		r.Body = f.body(sfx.Body, caps, muted)
		r.BodyStyle = muted
		r.Range = cfg.Range
		return r

	case SuffixRoleplay:
		r.Head.AppendMessage(f.system(cfg.DisplayPrefix + "&r "))
		r.Head.AppendMessage(f.system(cfg.NameColor + escape(name) + "&r "))
		r.Body = f.quoteStyled(sfx.Body, caps, r.BodyStyle)
		r.Roleplay = true
		return r
	}

	r.Head.AppendMessage(f.system(cfg.DisplayPrefix + "&r "))
	r.Head.AppendMessage(f.system(cfg.NameColor + escape(name) + "&r "))
	if sfx.Verb != "" {
		r.Head.AppendMessage(f.system(cfg.SeparatorColor + sfx.Verb + "&r "))
	}
	r.Body = f.body(sfx.Body, caps, r.BodyStyle)
	return r
}

// quoteStyled alternates style at every unescaped double quote: quoted
// speech takes the channel message style, narration outside quotes is bold,
// and the quote marks themselves are muted. \" is a literal quote. Each run
// is parsed with the sender's caps.
func (f *Formatter) quoteStyled(text string, caps platform.Caps, speech chatdb.Segment) chatdb.Message {
	var m chatdb.Message
	var sb strings.Builder
	inQuote := false
	flush := func() {
		base := narrationStyle
		if inQuote {
			base = speech
		}
		run := f.renderer.Render(sb.String(), caps)
		for _, seg := range run.Segments {
			if seg.Color == "" {
				seg.Color = base.Color
			}
			seg.Bold = seg.Bold || base.Bold
			m.Append(seg)
		}
		sb.Reset()
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\\' && i+1 < len(text) && text[i+1] == '"' {
			sb.WriteByte('"')
			i++
			continue
		}
		if c != '"' {
			sb.WriteByte(c)
			continue
		}
		flush()
		mark := quoteMarkStyle
		mark.Text = `"`
		m.Append(mark)
		inQuote = !inQuote
	}
	flush()
	return m
}

// ForRecipient decides what a recipient d blocks from the sender receives.
// measurable is false when the two are in different worlds.
func (f *Formatter) ForRecipient(r Rendered, isSender bool, d float64, measurable bool) (chatdb.Message, Delivery) {
	if isSender || r.Range < 0 {
		return r.Full(), DeliverFull
	}
	if !measurable {
		return chatdb.Message{}, DeliverSuppressed
	}
	if d <= float64(r.Range) {
		return r.Full(), DeliverFull
	}
	if r.Roleplay {
		return chatdb.Message{}, DeliverSuppressed
	}
	pct := ObscurePercentage(d, r.Range, f.params)
	m := chatdb.Message{Kind: chatdb.KindChannel, Channel: r.Channel, Source: r.Source}
	m.AppendMessage(r.Head)
	placeholder := f.style(f.params.PlaceholderColor)
	m.AppendMessage(obscure(r.Body, pct, r.BodyStyle, placeholder, f.params.Placeholder, f.rand))
	return m, DeliverObscured
}
