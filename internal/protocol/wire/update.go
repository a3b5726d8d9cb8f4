package wire

import (
	"encoding/json"
	"fmt"
)

// Update body discriminators carried in the `t` field.
const (
	// UpdateTypeNewMessage is a persisted session message.
	UpdateTypeNewMessage = "new-message"
	// UpdateTypeUpdateSession is a session metadata/agentState delta.
	UpdateTypeUpdateSession = "update-session"
	// UpdateTypeUpdateAccount is an account profile/settings delta.
	UpdateTypeUpdateAccount = "update-account"
	// UpdateTypeNewFeedItem is a social feed entry.
	UpdateTypeNewFeedItem = "new-feed-item"
)

// UpdateEvent is the persisted Socket.IO "update" event envelope.
//
// The server emits these to keep clients in sync. Body is a discriminated
// JSON object with a `t` field.
type UpdateEvent struct {
	// ID is the unique update id.
	ID string `json:"id"`
	// Seq is the user-scoped update sequence number.
	Seq int64 `json:"seq"`
	// Body is the typed update payload.
	Body json.RawMessage `json:"body"`
	// CreatedAt is a wall-clock timestamp in milliseconds since epoch.
	CreatedAt int64 `json:"createdAt"`
}

// EncryptedEnvelope is the ciphertext wrapper stored on the server and sent
// in updates.
type EncryptedEnvelope struct {
	// T is the envelope type (currently "encrypted").
	T string `json:"t"`
	// C is the ciphertext.
	C string `json:"c"`
}

// VersionedString is a versioned string value used for optimistic
// concurrency. For encrypted documents Value holds the ciphertext.
type VersionedString struct {
	// Value is the string payload.
	Value string `json:"value"`
	// Version is the monotonic version.
	Version int64 `json:"version"`
}

// UpdateBodyNewMessage is the body for `t == "new-message"`.
type UpdateBodyNewMessage struct {
	// T must be "new-message".
	T string `json:"t"`
	// SID is the session id.
	SID string `json:"sid"`
	// Message is the message payload.
	Message UpdateNewMessage `json:"message"`
}

// UpdateNewMessage is the message payload inside a new-message update.
type UpdateNewMessage struct {
	// ID is the message id.
	ID string `json:"id"`
	// Seq is the session-scoped message sequence.
	Seq int64 `json:"seq"`
	// LocalID is the client idempotency key; null when absent.
	LocalID *string `json:"localId"`
	// Content is the encrypted message envelope.
	Content EncryptedEnvelope `json:"content"`
	// CreatedAt is the message creation time in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
	// UpdatedAt is the message update time in ms since epoch.
	UpdatedAt int64 `json:"updatedAt"`
}

// UpdateBodyUpdateSession is the body for `t == "update-session"`.
//
// Metadata and AgentState are independently versioned; most updates carry
// only one of the two.
type UpdateBodyUpdateSession struct {
	// T must be "update-session".
	T string `json:"t"`
	// ID is the session id.
	ID string `json:"id"`
	// Metadata is the updated encrypted metadata, when it changed.
	Metadata *VersionedString `json:"metadata,omitempty"`
	// AgentState is the updated encrypted agent state, when it changed.
	AgentState *VersionedString `json:"agentState,omitempty"`
}

// UpdateBodyUpdateAccount is the body for `t == "update-account"`.
type UpdateBodyUpdateAccount struct {
	// T must be "update-account".
	T string `json:"t"`
	// ID is the account id.
	ID string `json:"id"`
	// Profile is the updated encrypted profile document, when it changed.
	Profile *VersionedString `json:"profile,omitempty"`
	// Settings is the updated encrypted settings document, when it changed.
	Settings *VersionedString `json:"settings,omitempty"`
}

// UpdateBodyNewFeedItem is the body for `t == "new-feed-item"`.
type UpdateBodyNewFeedItem struct {
	// T must be "new-feed-item".
	T string `json:"t"`
	// ID is the feed item id.
	ID string `json:"id"`
	// Counter is the server-assigned feed ordering counter.
	Counter int64 `json:"counter"`
	// Body is the encrypted feed payload.
	Body EncryptedEnvelope `json:"body"`
	// CreatedAt is the item creation time in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
}

// ParseUpdateEvent parses a raw Socket.IO payload into a typed update event.
func ParseUpdateEvent(v any) (*UpdateEvent, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var ev UpdateEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// UpdateType extracts the `t` discriminator from an update event body.
func (e *UpdateEvent) UpdateType() (string, error) {
	var tag struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(e.Body, &tag); err != nil {
		return "", fmt.Errorf("malformed update body: %w", err)
	}
	if tag.T == "" {
		return "", fmt.Errorf("update body missing t")
	}
	return tag.T, nil
}

// DecodeBody unmarshals the event body into a typed body struct.
func (e *UpdateEvent) DecodeBody(out any) error {
	if err := json.Unmarshal(e.Body, out); err != nil {
		return fmt.Errorf("decode update body: %w", err)
	}
	return nil
}
