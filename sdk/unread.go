package sdk

import (
	"fmt"

	"github.com/perchhq/perch/internal/msgqueue"
	"github.com/perchhq/perch/internal/session"
	"github.com/perchhq/perch/pkg/types"
)

// SessionHasUnread reports whether a session has activity the user has not
// seen, combining the server seq axis with the local pending-queue axis.
func (c *Client) SessionHasUnread(sessionID string) bool {
	v, _ := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		sess := c.sessions[sessionID]
		settings := c.settings
		c.mu.Unlock()
		if sess == nil {
			return false, nil
		}

		var marker *types.ViewedSessionMarker
		if settings != nil {
			if m, ok := settings.ViewedSessions[sessionID]; ok {
				marker = &m
			}
		}
		return session.HasUnreadActivity(session.UnreadArgs{
			SessionSeq:        sess.Seq,
			PendingActivityAt: msgqueue.PendingActivityAt(sess.Metadata),
			LastViewed:        marker,
		}), nil
	})
	unread, _ := v.(bool)
	return unread
}

// MarkSessionViewed records the current seq and pending-queue watermarks as
// the session's last-viewed marker, clearing its unread state. The marker is
// written into the local settings document; the next settings sync carries
// it to other devices.
func (c *Client) MarkSessionViewed(sessionID string) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		sess := c.sessions[sessionID]
		c.mu.Unlock()
		if sess == nil {
			return nil, fmt.Errorf("unknown session %s", sessionID)
		}

		marker := types.ViewedSessionMarker{
			Seq:               sess.Seq,
			PendingActivityAt: msgqueue.PendingActivityAt(sess.Metadata),
			ViewedAt:          c.clock.NowMs(),
		}

		c.mu.Lock()
		next := types.Settings{}
		if c.settings != nil {
			next = *c.settings
		}
		viewed := make(map[string]types.ViewedSessionMarker, len(next.ViewedSessions)+1)
		for id, m := range next.ViewedSessions {
			viewed[id] = m
		}
		viewed[sessionID] = marker
		next.ViewedSessions = viewed
		c.settings = &next
		c.mu.Unlock()

		c.notifyListener(func(l Listener) { l.OnAccountChanged() })
		return nil, nil
	})
	return err
}
