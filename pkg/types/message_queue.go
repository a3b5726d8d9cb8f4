package types

// MessageQueueV1 is the pending message queue embedded in session metadata.
//
// The queue holds user messages typed while the agent is busy or offline.
// Insertion order is send order. At most one item is claimed for active
// delivery at a time (InFlight).
//
// V is the schema discriminator: future queue schemas add new versioned
// variants next to this one rather than mutating it in place. Readers must
// leave queues with an unknown version untouched.
type MessageQueueV1 struct {
	// V is the schema version tag, always 1 for this shape.
	V int `json:"v"`
	// Queue holds not-yet-delivered items, keyed by LocalID, oldest first.
	Queue []MessageQueueV1Item `json:"queue"`
	// InFlight is the single item currently claimed for delivery, if any.
	InFlight *MessageQueueV1InFlight `json:"inFlight,omitempty"`
}

// MessageQueueV1Item is a single queued user message.
type MessageQueueV1Item struct {
	// LocalID is the client-generated id, unique across Queue and InFlight.
	LocalID string `json:"localId"`
	// Message is the raw message text.
	Message string `json:"message"`
	// CreatedAt is when the item was first enqueued, in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
	// UpdatedAt is when the item was last edited, in ms since epoch.
	UpdatedAt int64 `json:"updatedAt"`
}

// MessageQueueV1InFlight is a queue item claimed for active delivery.
type MessageQueueV1InFlight struct {
	MessageQueueV1Item
	// ClaimedAt is when delivery began, in ms since epoch.
	ClaimedAt int64 `json:"claimedAt"`
}

// MessageQueueV1DiscardedItem is a queue item moved to the discard ring, from
// where it can be restored back into the live queue by LocalID.
type MessageQueueV1DiscardedItem struct {
	MessageQueueV1Item
	// DiscardedAt is when the item was discarded, in ms since epoch.
	DiscardedAt int64 `json:"discardedAt"`
	// DiscardedReason explains why the item was discarded.
	DiscardedReason DiscardedReason `json:"discardedReason"`
}

// DiscardedReason explains why a queue item was moved to the discard ring.
type DiscardedReason string

const (
	// DiscardReasonSwitchToLocal means the queue was superseded by a mode
	// switch (the desktop took the session back, so queued remote sends no
	// longer apply).
	DiscardReasonSwitchToLocal DiscardedReason = "switch_to_local"
	// DiscardReasonManual means the user cleared the item explicitly.
	DiscardReasonManual DiscardedReason = "manual"
)
