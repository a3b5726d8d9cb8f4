package websocket

import (
	"fmt"
	"time"
)

// updateAckTimeout bounds optimistic metadata/state writes.
const updateAckTimeout = 5 * time.Second

// UpdateMetadata writes a session's encrypted metadata with optimistic
// concurrency.
//
// On success the new version is returned. On ErrVersionMismatch the returned
// version and ciphertext are the server's current authoritative value; the
// caller must re-merge its change onto that value and retry.
func (c *Client) UpdateMetadata(sessionID string, metadata string, expectedVersion int64) (int64, string, error) {
	resp, err := c.EmitWithAck("update-metadata", map[string]interface{}{
		"sid":             sessionID,
		"metadata":        metadata,
		"expectedVersion": expectedVersion,
	}, updateAckTimeout)
	if err != nil {
		return expectedVersion, "", err
	}
	ack, err := parseVersionedAck(resp)
	if err != nil {
		return expectedVersion, "", err
	}

	switch ack.Result {
	case "success":
		return ack.Version, "", nil
	case "version-mismatch":
		return ack.Version, ack.Metadata, ErrVersionMismatch
	default:
		return expectedVersion, "", fmt.Errorf("update-metadata failed: %v", ack.Result)
	}
}

// UpdateState writes a session's encrypted agent state with optimistic
// concurrency. Same contract as UpdateMetadata.
func (c *Client) UpdateState(sessionID string, agentState string, expectedVersion int64) (int64, string, error) {
	resp, err := c.EmitWithAck("update-state", map[string]interface{}{
		"sid":             sessionID,
		"agentState":      agentState,
		"expectedVersion": expectedVersion,
	}, updateAckTimeout)
	if err != nil {
		return expectedVersion, "", err
	}
	ack, err := parseVersionedAck(resp)
	if err != nil {
		return expectedVersion, "", err
	}

	switch ack.Result {
	case "success":
		return ack.Version, "", nil
	case "version-mismatch":
		return ack.Version, ack.AgentState, ErrVersionMismatch
	default:
		return expectedVersion, "", fmt.Errorf("update-state failed: %v", ack.Result)
	}
}

// SendMessage emits a session message carrying encrypted content and the
// client's idempotency key.
func (c *Client) SendMessage(sessionID string, localID string, contentCipher string) error {
	return c.Emit(string(EventMessage), map[string]interface{}{
		"sid":     sessionID,
		"localId": localID,
		"message": contentCipher,
	})
}
