package sdk

import (
	"fmt"

	"github.com/perchhq/perch/internal/wake"
	"github.com/perchhq/perch/pkg/logger"
)

// resumeSessionMethod is the daemon RPC that reattaches an agent process.
const resumeSessionMethod = "resume-session"

// WakeSessionForPendingQueue wakes a session's agent so it can drain the
// pending message queue. Returns false without error for every "don't wake"
// outcome: agent busy, unresolvable target, or a capability gate.
func (c *Client) WakeSessionForPendingQueue(sessionID string) (bool, error) {
	v, err := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		sess := c.sessions[sessionID]
		tr := c.transport
		caps := c.caps
		c.mu.Unlock()
		if sess == nil {
			return false, fmt.Errorf("unknown session %s", sessionID)
		}

		opts := wake.ResolvePendingQueueWake(wake.Args{
			SessionID:    sessionID,
			Session:      sess,
			Capabilities: caps,
		})
		if opts == nil {
			logger.Debugf("session %s: no wake, agent busy or unresolvable", sessionID)
			return false, nil
		}
		if tr == nil {
			return false, fmt.Errorf("not connected")
		}

		enc, err := c.sessionEncryption(sessionID)
		if err != nil {
			return false, err
		}
		paramsCipher, err := enc.EncryptDocument(opts)
		if err != nil {
			return false, fmt.Errorf("encrypt wake params: %w", err)
		}

		if _, err := tr.CallMachineRPC(opts.MachineID, resumeSessionMethod, paramsCipher); err != nil {
			return false, fmt.Errorf("wake session %s: %w", sessionID, err)
		}
		logger.Infof("session %s: woke %s agent on machine %s", sessionID, opts.Agent, opts.MachineID)
		return true, nil
	})
	woken, _ := v.(bool)
	return woken, err
}

// SendOrWake is the send path entry point: flush the queue when possible,
// and wake the agent when the session is dormant so the flush lands.
func (c *Client) SendOrWake(sessionID string) error {
	woken, err := c.WakeSessionForPendingQueue(sessionID)
	if err != nil {
		return err
	}
	if woken {
		// The woken agent drains the queue itself from metadata.
		return nil
	}
	return c.FlushPendingQueue(sessionID)
}
