package chatdb

import (
	"fmt"
	"strings"
)

// NameStyle selects which of a player's names is shown in channel messages.
type NameStyle int

const (
	NameDisplay  NameStyle = iota // Display name (default)
	NameUsername                  // Account username
	NameNickname                  // Nickname, falling back to display name
)

// String returns the configuration spelling of the style.
func (s NameStyle) String() string {
	switch s {
	case NameUsername:
		return "USERNAME"
	case NameNickname:
		return "NICKNAME"
	default:
		return "DISPLAY_NAME"
	}
}

// ParseNameStyle parses a configured name style. Empty means DISPLAY_NAME.
func ParseNameStyle(s string) (NameStyle, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DISPLAY_NAME", "DISPLAYNAME":
		return NameDisplay, nil
	case "USERNAME":
		return NameUsername, nil
	case "NICKNAME":
		return NameNickname, nil
	}
	return NameDisplay, fmt.Errorf("unknown name style %q", s)
}

// UnmarshalText lets yaml.v3 decode name styles from their config spelling.
func (s *NameStyle) UnmarshalText(text []byte) error {
	v, err := ParseNameStyle(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText writes the config spelling.
func (s NameStyle) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Default markup values applied when a definition leaves them empty.
const (
	DefaultMessageColor = "&f"
	DefaultSeparator    = ": "
	Unbounded           = -1
)

// SpecialLocal marks a proximity channel.
const SpecialLocal = "local"

// RawChannelDef is a channel definition as read from configuration.
// Range is a pointer so an omitted range can default to unbounded.
type RawChannelDef struct {
	Name           string    `yaml:"name"`
	DisplayPrefix  string    `yaml:"display_prefix"`
	Shortcut       string    `yaml:"shortcut"`
	Permission     string    `yaml:"permission"`
	Range          *int      `yaml:"range"`
	NameColor      string    `yaml:"name_color"`
	Separator      string    `yaml:"separator"`
	SeparatorColor string    `yaml:"separator_color"`
	MessageColor   string    `yaml:"message_color"`
	AlwaysOn       bool      `yaml:"always_on"`
	Mature         bool      `yaml:"mature"`
	SpecialType    string    `yaml:"special_channel_type"`
	NameStyle      NameStyle `yaml:"name_style"`
}

// ChannelConfig is a validated, immutable channel definition.
type ChannelConfig struct {
	Name           string
	DisplayPrefix  string
	Shortcut       string
	Permission     string // empty = open to all
	Range          int    // Unbounded (-1) = server-wide
	NameColor      string
	Separator      string
	SeparatorColor string
	MessageColor   string
	AlwaysOn       bool
	Mature         bool
	SpecialType    string
	NameStyle      NameStyle
}

// Build validates the raw definition and applies defaults.
func (d RawChannelDef) Build() (ChannelConfig, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return ChannelConfig{}, fmt.Errorf("missing name")
	}
	if strings.ContainsAny(name, ", ") {
		return ChannelConfig{}, fmt.Errorf("channel %q: name may not contain commas or spaces", name)
	}
	if d.DisplayPrefix == "" {
		return ChannelConfig{}, fmt.Errorf("channel %q: missing display_prefix", name)
	}
	shortcut := strings.TrimSpace(d.Shortcut)
	if shortcut == "" {
		return ChannelConfig{}, fmt.Errorf("channel %q: missing shortcut", name)
	}
	if strings.ContainsAny(shortcut, ":;") {
		return ChannelConfig{}, fmt.Errorf("channel %q: shortcut %q may not contain ':' or ';'", name, shortcut)
	}

	cfg := ChannelConfig{
		Name:           name,
		DisplayPrefix:  d.DisplayPrefix,
		Shortcut:       shortcut,
		Permission:     strings.TrimSpace(d.Permission),
		Range:          Unbounded,
		NameColor:      d.NameColor,
		Separator:      d.Separator,
		SeparatorColor: d.SeparatorColor,
		MessageColor:   d.MessageColor,
		AlwaysOn:       d.AlwaysOn,
		Mature:         d.Mature,
		SpecialType:    strings.ToLower(strings.TrimSpace(d.SpecialType)),
		NameStyle:      d.NameStyle,
	}
	if d.Range != nil {
		cfg.Range = *d.Range
		if cfg.Range < Unbounded {
			cfg.Range = Unbounded
		}
	}
	if cfg.MessageColor == "" {
		cfg.MessageColor = DefaultMessageColor
	}
	if cfg.NameColor == "" {
		cfg.NameColor = cfg.MessageColor
	}
	if cfg.SeparatorColor == "" {
		cfg.SeparatorColor = cfg.MessageColor
	}
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	return cfg, nil
}

// Bounded reports whether messages on the channel are range limited.
func (c *ChannelConfig) Bounded() bool { return c.Range >= 0 }

// IsLocal reports whether the channel uses proximity formatting.
func (c *ChannelConfig) IsLocal() bool { return c.SpecialType == SpecialLocal }

// Gated reports whether joining requires a permission node.
// Always-on channels are never gated.
func (c *ChannelConfig) Gated() bool { return !c.AlwaysOn && c.Permission != "" }
