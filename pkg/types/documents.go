package types

// Profile is the account profile document (decrypted).
type Profile struct {
	// FirstName is the user-visible first name.
	FirstName string `json:"firstName,omitempty"`
	// LastName is the user-visible last name.
	LastName string `json:"lastName,omitempty"`
	// AvatarURL points at the account avatar, when set.
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Settings is the synced app settings document (decrypted).
type Settings struct {
	// ViewedSessions records per-session "last viewed" markers used by the
	// unread computation, keyed by session id.
	ViewedSessions map[string]ViewedSessionMarker `json:"viewedSessions,omitempty"`
	// Experiments holds feature flags toggled per account.
	Experiments map[string]bool `json:"experiments,omitempty"`
}

// ViewedSessionMarker is the per-session high-water mark recorded when the
// user last opened a session.
type ViewedSessionMarker struct {
	// Seq is the session seq observed at view time.
	Seq int64 `json:"seq"`
	// PendingActivityAt is the pending-queue activity watermark observed at
	// view time, in ms since epoch.
	PendingActivityAt int64 `json:"pendingActivityAt"`
	// ViewedAt is when the session was opened, in ms since epoch.
	ViewedAt int64 `json:"viewedAt"`
}

// FeedItem is one entry of the social feed document.
type FeedItem struct {
	// ID is the server-assigned feed item id.
	ID string `json:"id"`
	// Counter is the server-assigned ordering counter for the feed.
	Counter int64 `json:"counter"`
	// Body is the decrypted feed payload.
	Body string `json:"body"`
	// CreatedAt is the item creation time in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
}
