package session

import (
	"fmt"

	"github.com/perchhq/perch/internal/protocol/wire"
	"github.com/perchhq/perch/pkg/logger"
	"github.com/perchhq/perch/pkg/types"
)

// Encryption decrypts versioned session documents.
//
// Implementations map `(version, ciphertext)` to a plaintext document; the
// version selects the envelope scheme (legacy secretbox vs data-key AES-GCM).
type Encryption interface {
	// DecryptMetadata decrypts a session metadata document.
	DecryptMetadata(version int64, ciphertext string) (*types.Metadata, error)
	// DecryptAgentState decrypts an agent state document.
	DecryptAgentState(version int64, ciphertext string) (*types.AgentState, error)
}

// BuildUpdatedSessionFromUpdate merges an "update-session" socket delivery
// into a session snapshot and returns the replacement value.
//
// Partial updates are the norm: most deliveries touch only one of the two
// documents, and the untouched one is carried over unchanged. Document
// versions only move forward; a delivery carrying an older or equal version
// leaves that document alone. A decryption failure rejects the whole update
// and returns the previous snapshot untouched, so a corrupt delivery can
// never damage local state.
//
// The returned agentState is the freshly decrypted document when the update
// carried one, else nil.
func BuildUpdatedSessionFromUpdate(
	sess *types.Session,
	body *wire.UpdateBodyUpdateSession,
	updateSeq int64,
	updateCreatedAt int64,
	enc Encryption,
) (*types.Session, *types.AgentState, error) {
	if sess == nil {
		return nil, nil, fmt.Errorf("nil session")
	}
	if body == nil {
		return sess, nil, fmt.Errorf("nil update body")
	}

	nextSeq := NextSessionSeq(sess.Seq, wire.UpdateTypeUpdateSession, updateSeq, 0)
	if nextSeq <= sess.Seq {
		// Reordered or duplicate delivery: already applied, drop silently.
		logger.Tracef("session %s: dropping stale update seq=%d current=%d", sess.ID, updateSeq, sess.Seq)
		return sess, nil, nil
	}

	next := *sess

	if body.AgentState != nil && body.AgentState.Version > sess.AgentStateVersion {
		state, err := enc.DecryptAgentState(body.AgentState.Version, body.AgentState.Value)
		if err != nil {
			return sess, nil, fmt.Errorf("decrypt agentState v%d for session %s: %w", body.AgentState.Version, sess.ID, err)
		}
		next.AgentState = state
		next.AgentStateVersion = body.AgentState.Version
	}

	if body.Metadata != nil && body.Metadata.Version > sess.MetadataVersion {
		meta, err := enc.DecryptMetadata(body.Metadata.Version, body.Metadata.Value)
		if err != nil {
			return sess, nil, fmt.Errorf("decrypt metadata v%d for session %s: %w", body.Metadata.Version, sess.ID, err)
		}
		next.Metadata = meta
		next.MetadataVersion = body.Metadata.Version
	}

	next.Seq = nextSeq
	// Server-supplied timestamp, never the local clock, so cross-device
	// ordering stays consistent.
	next.UpdatedAt = updateCreatedAt

	var freshState *types.AgentState
	if next.AgentStateVersion > sess.AgentStateVersion {
		freshState = next.AgentState
	}
	return &next, freshState, nil
}

// ApplyMessageSeq advances a session's seq for a "new-message" delivery.
//
// Message content itself is handled elsewhere; this only maintains the
// session ordering watermark. Stale deliveries return the input unchanged.
func ApplyMessageSeq(sess *types.Session, updateSeq int64, messageSeq int64, updateCreatedAt int64) *types.Session {
	if sess == nil {
		return nil
	}
	nextSeq := NextSessionSeq(sess.Seq, wire.UpdateTypeNewMessage, updateSeq, messageSeq)
	if nextSeq <= sess.Seq {
		return sess
	}
	next := *sess
	next.Seq = nextSeq
	next.UpdatedAt = updateCreatedAt
	return &next
}
