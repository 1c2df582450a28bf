// Package markup renders &-code chat markup into message segments.
//
//	&0-&f  colors        &l bold    &o italic
//	&n     underline     &m strike  &r reset
//	&&     literal '&'
//
// A color code clears active formatting, matching the classic client
// behaviour. Codes the sender may not use are consumed and ignored.
package markup

import (
	"regexp"
	"strings"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/platform"
)

var colorNames = map[byte]string{
	'0': "black",
	'1': "dark_blue",
	'2': "dark_green",
	'3': "dark_aqua",
	'4': "dark_red",
	'5': "dark_purple",
	'6': "gold",
	'7': "gray",
	'8': "dark_gray",
	'9': "blue",
	'a': "green",
	'b': "aqua",
	'c': "red",
	'd': "light_purple",
	'e': "yellow",
	'f': "white",
}

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

var allCaps = platform.Caps{Color: true, Format: true}

// Renderer is the default platform.Renderer.
type Renderer struct{}

// New returns a Renderer.
func New() *Renderer { return &Renderer{} }

// Render parses text, honoring caps.
func (*Renderer) Render(text string, caps platform.Caps) chatdb.Message {
	var m chatdb.Message
	m.Append(Parse(text, caps, chatdb.Segment{})...)
	return m
}

// RenderLinks is Render with http(s) URLs marked clickable.
func (r *Renderer) RenderLinks(text string, caps platform.Caps) chatdb.Message {
	m := r.Render(text, caps)
	m.Segments = linkify(m.Segments)
	return m
}

// RenderSystem renders engine-authored text with every code allowed.
func (r *Renderer) RenderSystem(text string) chatdb.Message {
	return r.Render(text, allCaps)
}

// Parse splits text into styled segments starting from base.
func Parse(text string, caps platform.Caps, base chatdb.Segment) []chatdb.Segment {
	var out []chatdb.Segment
	cur := base.Style()
	var sb strings.Builder

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		seg := cur
		seg.Text = sb.String()
		out = append(out, seg)
		sb.Reset()
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '&' || i+1 >= len(text) {
			sb.WriteByte(c)
			continue
		}
		code := lower(text[i+1])
		if code == '&' {
			sb.WriteByte('&')
			i++
			continue
		}
		if name, ok := colorNames[code]; ok {
			i++
			if !caps.Color {
				continue
			}
			flush()
			cur = chatdb.Segment{Color: name}
			continue
		}
		switch code {
		case 'l', 'o', 'n', 'm':
			i++
			if !caps.Format {
				continue
			}
			flush()
			switch code {
			case 'l':
				cur.Bold = true
			case 'o':
				cur.Italic = true
			case 'n':
				cur.Underline = true
			case 'm':
				cur.Strike = true
			}
		case 'r':
			i++
			flush()
			cur = base.Style()
		default:
			sb.WriteByte(c)
		}
	}
	flush()
	return out
}

// Strip removes all recognised codes.
func Strip(text string) string {
	var sb strings.Builder
	for _, seg := range Parse(text, allCaps, chatdb.Segment{}) {
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func linkify(segs []chatdb.Segment) []chatdb.Segment {
	var out []chatdb.Segment
	for _, seg := range segs {
		locs := urlRe.FindAllStringIndex(seg.Text, -1)
		if len(locs) == 0 {
			out = append(out, seg)
			continue
		}
		last := 0
		for _, loc := range locs {
			if loc[0] > last {
				plain := seg
				plain.Text = seg.Text[last:loc[0]]
				out = append(out, plain)
			}
			link := seg
			link.Text = seg.Text[loc[0]:loc[1]]
			link.Link = link.Text
			link.Underline = true
			out = append(out, link)
			last = loc[1]
		}
		if last < len(seg.Text) {
			tail := seg
			tail.Text = seg.Text[last:]
			out = append(out, tail)
		}
	}
	return out
}
