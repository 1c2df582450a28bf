package chatdb

// PlayerID is a stable player identity (account UUID on most platforms).
type PlayerID string

// Focus is what a player's next un-prefixed message is routed to.
// The variant set is closed: ChannelFocus and DMFocus.
type Focus interface {
	isFocus()
	String() string
}

// ChannelFocus points a player at a channel, by name.
type ChannelFocus struct {
	Channel string
}

// DMFocus points a player at a direct-message peer.
type DMFocus struct {
	Peer PlayerID
}

func (ChannelFocus) isFocus() {}
func (DMFocus) isFocus()      {}

func (f ChannelFocus) String() string { return "channel:" + f.Channel }
func (f DMFocus) String() string      { return "dm:" + string(f.Peer) }

// FocusChannel returns the channel name of a channel focus.
func FocusChannel(f Focus) (string, bool) {
	cf, ok := f.(ChannelFocus)
	if !ok {
		return "", false
	}
	return cf.Channel, true
}

// FocusPeer returns the peer of a DM focus.
func FocusPeer(f Focus) (PlayerID, bool) {
	df, ok := f.(DMFocus)
	if !ok {
		return "", false
	}
	return df.Peer, true
}
