package sdk

import (
	"errors"
	"fmt"

	"github.com/perchhq/perch/internal/websocket"
	"github.com/perchhq/perch/pkg/logger"
	"github.com/perchhq/perch/pkg/types"
)

// SetSessionControlledByUser records who drives the session's agent loop.
// Switching control to the local desktop usually pairs with DiscardAllQueued,
// since queued remote sends no longer apply.
func (c *Client) SetSessionControlledByUser(sessionID string, controlled bool) error {
	return c.mutateAgentState(sessionID, func(state *types.AgentState) *types.AgentState {
		if state.ControlledByUser == controlled {
			return state
		}
		next := *state
		next.ControlledByUser = controlled
		return &next
	})
}

// mutateAgentState applies a pure transform to a session's agent state and
// writes it back with optimistic concurrency. Same contract as
// mutateMetadata: on version mismatch the transform is re-applied onto the
// server's authoritative document, and an unchanged result is a no-op.
func (c *Client) mutateAgentState(sessionID string, transform func(*types.AgentState) *types.AgentState) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		return nil, c.runAgentStateMutation(sessionID, transform)
	})
	return err
}

func (c *Client) runAgentStateMutation(sessionID string, transform func(*types.AgentState) *types.AgentState) error {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	tr := c.transport
	c.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	if tr == nil {
		return fmt.Errorf("not connected")
	}
	enc, err := c.sessionEncryption(sessionID)
	if err != nil {
		return err
	}

	state := sess.AgentState
	if state == nil {
		state = &types.AgentState{}
	}
	version := sess.AgentStateVersion

	for attempt := 0; attempt < maxMetadataRetries; attempt++ {
		next := transform(state)
		if next == state {
			return nil
		}
		cipher, err := enc.EncryptDocument(next)
		if err != nil {
			return fmt.Errorf("encrypt agentState for session %s: %w", sessionID, err)
		}

		newVersion, authoritative, err := tr.UpdateState(sessionID, cipher, version)
		if err == nil {
			c.installAgentState(sessionID, next, newVersion)
			return nil
		}
		if !errors.Is(err, websocket.ErrVersionMismatch) {
			return fmt.Errorf("update agentState for session %s: %w", sessionID, err)
		}

		if authoritative == "" {
			state = &types.AgentState{}
		} else {
			state, err = enc.DecryptAgentState(newVersion, authoritative)
			if err != nil {
				return fmt.Errorf("session %s: decode authoritative agentState: %w", sessionID, err)
			}
		}
		version = newVersion
		logger.Debugf("session %s: agentState version raced, retrying at v%d", sessionID, newVersion)
	}
	return fmt.Errorf("session %s: agentState contention, gave up after %d attempts", sessionID, maxMetadataRetries)
}

// installAgentState swaps a freshly acknowledged agent state document into
// the session snapshot.
func (c *Client) installAgentState(sessionID string, state *types.AgentState, version int64) {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	if sess == nil {
		c.mu.Unlock()
		return
	}
	next := *sess
	next.AgentState = state
	next.AgentStateVersion = version
	c.mu.Unlock()
	c.storeSession(&next)
}
