package chatdb

import (
	"sort"
	"strings"
)

// MembershipRecord is one online player's channel state.
// Records are treated as values: callers Clone before mutating.
type MembershipRecord struct {
	Player         PlayerID
	Joined         map[string]struct{} // channel names
	Focus          Focus               // nil = no focus
	LastIncomingDM PlayerID            // drives the reply prefix
	LastOutgoingDM PlayerID
	MatureSeen     map[string]struct{} // mature channels already warned about
}

// NewMembershipRecord returns an empty record for player.
func NewMembershipRecord(player PlayerID) *MembershipRecord {
	return &MembershipRecord{
		Player:     player,
		Joined:     make(map[string]struct{}),
		MatureSeen: make(map[string]struct{}),
	}
}

// Clone returns a deep copy.
func (r *MembershipRecord) Clone() *MembershipRecord {
	c := *r
	c.Joined = make(map[string]struct{}, len(r.Joined))
	for k := range r.Joined {
		c.Joined[k] = struct{}{}
	}
	c.MatureSeen = make(map[string]struct{}, len(r.MatureSeen))
	for k := range r.MatureSeen {
		c.MatureSeen[k] = struct{}{}
	}
	return &c
}

// IsMember reports whether the player has joined channel.
func (r *MembershipRecord) IsMember(channel string) bool {
	_, ok := r.Joined[channel]
	return ok
}

// JoinedNames returns the joined channel names, sorted.
func (r *MembershipRecord) JoinedNames() []string {
	return sortedKeys(r.Joined)
}

// FocusedOn reports whether the record is channel-focused on channel.
func (r *MembershipRecord) FocusedOn(channel string) bool {
	name, ok := FocusChannel(r.Focus)
	return ok && name == channel
}

// EncodeChannelSet joins a set of channel names with commas.
// Output is sorted so equal sets encode identically.
func EncodeChannelSet(set map[string]struct{}) string {
	return strings.Join(sortedKeys(set), ",")
}

// DecodeChannelSet is the inverse of EncodeChannelSet. Blank entries are ignored.
func DecodeChannelSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
