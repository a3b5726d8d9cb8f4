package session

import "github.com/perchhq/perch/pkg/types"

// UnreadArgs are the high-water marks compared by HasUnreadActivity.
type UnreadArgs struct {
	// SessionSeq is the session's current server-assigned seq.
	SessionSeq int64
	// PendingActivityAt is the pending-queue activity watermark in ms since
	// epoch (see msgqueue.PendingActivityAt).
	PendingActivityAt int64
	// LastViewed is the marker recorded when the user last opened the
	// session; nil when the session has never been viewed.
	LastViewed *types.ViewedSessionMarker
}

// HasUnreadActivity reports whether a session has activity the user has not
// seen.
//
// The comparison is two-axis: server seq covers synced events, and the
// pending-queue watermark covers purely-local queue activity that never bumps
// server seq. Either axis moving past its last-viewed mark flips the badge.
// A session never viewed is unread as soon as anything happened at all.
func HasUnreadActivity(args UnreadArgs) bool {
	if args.LastViewed == nil {
		return args.SessionSeq > 0 || args.PendingActivityAt > 0
	}
	return args.SessionSeq > args.LastViewed.Seq ||
		args.PendingActivityAt > args.LastViewed.PendingActivityAt
}
