package membership

import "errors"

// Outcomes of membership operations. Each is reported to the acting player
// before being returned; callers branch on them with errors.Is.
var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrNoPermission     = errors.New("no permission")
	ErrAlreadyJoined    = errors.New("already joined")
	ErrNotJoined        = errors.New("not joined")
	ErrAlwaysOn         = errors.New("channel is always on")
	ErrTargetOffline    = errors.New("target not online")
	ErrInvalidTarget    = errors.New("invalid target")
	ErrNothingToReply   = errors.New("nothing to reply to")
	ErrNoDefaultChannel = errors.New("no default channel configured")
	ErrNotOnline        = errors.New("player not online")
)

var outcomes = []error{
	ErrChannelNotFound, ErrNoPermission, ErrAlreadyJoined, ErrNotJoined,
	ErrAlwaysOn, ErrTargetOffline, ErrInvalidTarget, ErrNothingToReply,
	ErrNoDefaultChannel, ErrNotOnline,
}

// IsOutcome reports whether err is one of the expected, already-reported
// outcomes above rather than an internal failure.
func IsOutcome(err error) bool {
	for _, o := range outcomes {
		if errors.Is(err, o) {
			return true
		}
	}
	return false
}
