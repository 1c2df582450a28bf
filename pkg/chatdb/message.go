package chatdb

import "strings"

// MessageKind classifies a rendered message for the delivery layer.
type MessageKind int

const (
	KindSystem  MessageKind = iota // Notices authored by the engine
	KindChannel                    // Channel chat
	KindDirect                     // Direct message
)

// String returns a human-readable name for the kind.
func (k MessageKind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindDirect:
		return "direct"
	default:
		return "system"
	}
}

// Segment is a run of text sharing one style.
type Segment struct {
	Text      string
	Color     string // color name, "" = inherit client default
	Bold      bool
	Italic    bool
	Underline bool
	Strike    bool
	Link      string // clickable target, if any
}

// Style returns a copy of the segment with Text cleared.
func (s Segment) Style() Segment {
	s.Text = ""
	return s
}

// Message is a rendered message tree, flattened to styled segments.
type Message struct {
	Kind     MessageKind
	Channel  string   // set for KindChannel
	Source   PlayerID // sender, empty for system messages
	Segments []Segment
}

// Append adds segments, skipping empty ones.
func (m *Message) Append(segs ...Segment) {
	for _, s := range segs {
		if s.Text != "" {
			m.Segments = append(m.Segments, s)
		}
	}
}

// AppendMessage appends another message's segments.
func (m *Message) AppendMessage(o Message) {
	m.Append(o.Segments...)
}

// Plain returns the message text without styling.
func (m Message) Plain() string {
	var sb strings.Builder
	for _, s := range m.Segments {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// Len returns the number of visible characters (runes).
func (m Message) Len() int {
	n := 0
	for _, s := range m.Segments {
		n += len([]rune(s.Text))
	}
	return n
}

// Text builds a single-segment message.
func Text(text, color string) Message {
	var m Message
	m.Append(Segment{Text: text, Color: color})
	return m
}
