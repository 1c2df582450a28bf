package format

import "strings"

// SuffixKind is the action a trailing suffix selects on a local channel.
type SuffixKind int

const (
	SuffixSay SuffixKind = iota
	SuffixShout
	SuffixExclaim
	SuffixAsk
	SuffixWhisper
	SuffixMutter
	SuffixRoleplay
	SuffixOOC
)

// Suffix is a parsed local-channel message.
type Suffix struct {
	Kind  SuffixKind
	Range int    // effective range; unused for OOC
	Verb  string // "" for roleplay and OOC
	Body  string // message with any consumed suffix removed
}

type suffixRule struct {
	token string
	kind  SuffixKind
	rng   int
	verb  string
	strip bool
}

// Longer tokens first so "!!" and "))" win over "!".
var suffixRules = []suffixRule{
	{"))", SuffixOOC, 0, "", true},
	{"!!", SuffixShout, 100, "shouts:", false},
	{"!", SuffixExclaim, 75, "exclaims:", false},
	{"?", SuffixAsk, 50, "asks:", false},
	{"*", SuffixWhisper, 10, "whispers:", true},
	{"$", SuffixMutter, 3, "mutters:", true},
	{"+", SuffixRoleplay, 50, "", true},
}

// ParseSuffix picks the verb and range for a local-channel message.
func ParseSuffix(text string) Suffix {
	trimmed := strings.TrimRight(text, " \t")
	for _, r := range suffixRules {
		if !strings.HasSuffix(trimmed, r.token) {
			continue
		}
		body := text
		if r.strip {
			body = strings.TrimRight(strings.TrimSuffix(trimmed, r.token), " \t")
		}
		return Suffix{Kind: r.kind, Range: r.rng, Verb: r.verb, Body: body}
	}
	return Suffix{Kind: SuffixSay, Range: 50, Verb: "says:", Body: text}
}
