package sdk

import (
	"fmt"
	"time"

	"github.com/perchhq/perch/internal/protocol/wire"
	"github.com/perchhq/perch/internal/reconnect"
	"github.com/perchhq/perch/internal/session"
	"github.com/perchhq/perch/internal/storage"
	"github.com/perchhq/perch/internal/websocket"
	"github.com/perchhq/perch/pkg/logger"
	"github.com/perchhq/perch/pkg/types"
)

// connectTimeout bounds the initial socket handshake.
const connectTimeout = 15 * time.Second

// tokenExpiryWarnWindow triggers a warning for tokens about to lapse, so the
// app can refresh before the server starts rejecting the connection.
const tokenExpiryWarnWindow = 24 * time.Hour

// Connect establishes the user-scoped socket connection and starts applying
// updates. Safe to call again after Disconnect.
func (c *Client) Connect() error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		token := c.token
		hasKeys := c.accountEnc != nil
		alreadyConnected := c.socket != nil
		c.mu.Unlock()

		if !hasKeys {
			return nil, fmt.Errorf("credentials not set")
		}
		if alreadyConnected {
			return nil, fmt.Errorf("already connected")
		}
		if expiring, err := isTokenExpiringSoon(token, tokenExpiryWarnWindow); err != nil {
			return nil, err
		} else if expiring {
			logger.Warnf("auth token expires within %s, refresh recommended", tokenExpiryWarnWindow)
		}

		sock := websocket.NewUserClient(c.serverURL, token)
		sock.OnConnect(c.handleConnect)
		sock.OnDisconnect(c.handleDisconnect)
		sock.On(websocket.EventUpdate, c.handleUpdateEvent)

		if err := sock.Connect(); err != nil {
			return nil, err
		}
		if !sock.WaitForConnect(connectTimeout) {
			_ = sock.Close()
			return nil, fmt.Errorf("connect timeout after %s", connectTimeout)
		}

		c.mu.Lock()
		c.socket = sock
		c.transport = sock
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// Disconnect tears down the socket. Session state and pending queues are
// kept; reconnect managers keep serving the last snapshots.
func (c *Client) Disconnect() error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		sock := c.socket
		c.socket = nil
		c.transport = nil
		c.mu.Unlock()
		if sock != nil {
			return nil, sock.Close()
		}
		return nil, nil
	})
	return err
}

// LoadPersistedSessions hydrates the session table from on-disk snapshots.
// Call before Connect so updates merge onto the persisted state instead of
// starting from zero.
func (c *Client) LoadPersistedSessions() error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		home := c.perchHome
		c.mu.Unlock()
		if home == "" {
			return nil, nil
		}
		ids, err := storage.ListSessionSnapshots(home)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			snap, ok, err := storage.LoadSessionSnapshot(home, id)
			if err != nil {
				logger.Warnf("session %s: unreadable snapshot: %v", id, err)
				continue
			}
			if !ok || snap.Session == nil {
				continue
			}
			c.mu.Lock()
			if _, exists := c.sessions[id]; !exists {
				c.sessions[id] = snap.Session
			}
			c.mu.Unlock()
		}
		return nil, nil
	})
	return err
}

func (c *Client) handleConnect() {
	_ = c.dispatch.do(func() {
		c.mu.Lock()
		managers := make([]*managerEntry, 0, len(c.managers))
		for id, m := range c.managers {
			managers = append(managers, &managerEntry{id: id, manager: m})
		}
		c.mu.Unlock()

		// The transport carries every session, so one reconnect re-arms all
		// session façades with a fresh (identical but now authoritative)
		// handle.
		for _, entry := range managers {
			entry.manager.OfferSwap(&sessionHandle{client: c, sessionID: entry.id})
		}
		c.notifyListener(func(l Listener) { l.OnConnected() })
	})
}

func (c *Client) handleDisconnect(reason string) {
	_ = c.dispatch.do(func() {
		c.mu.Lock()
		managers := make([]*managerEntry, 0, len(c.managers))
		for id, m := range c.managers {
			managers = append(managers, &managerEntry{id: id, manager: m})
		}
		c.mu.Unlock()

		for _, entry := range managers {
			entry.manager.MarkReconnecting()
		}
		c.notifyListener(func(l Listener) { l.OnDisconnected(reason) })
	})
}

// handleUpdateEvent is the socket "update" handler. The raw payload is
// re-dispatched so all merges stay on the single SDK goroutine.
func (c *Client) handleUpdateEvent(data map[string]interface{}) {
	_ = c.dispatch.do(func() { c.applyUpdate(data) })
}

// applyUpdate parses and applies one persisted update. Malformed or
// undecryptable updates are reported and skipped; they never damage local
// state.
func (c *Client) applyUpdate(data map[string]interface{}) {
	ev, err := wire.ParseUpdateEvent(data)
	if err != nil {
		c.emitError("malformed update: %v", err)
		return
	}
	// Every server-stamped timestamp doubles as a clock observation.
	c.clock.Observe(float64(ev.CreatedAt))

	updateType, err := ev.UpdateType()
	if err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}

	switch updateType {
	case wire.UpdateTypeUpdateSession:
		c.applySessionUpdate(ev)
	case wire.UpdateTypeNewMessage:
		c.applyNewMessage(ev)
	case wire.UpdateTypeUpdateAccount:
		c.applyAccountUpdate(ev)
	case wire.UpdateTypeNewFeedItem:
		c.applyFeedItem(ev)
	default:
		// Unknown update types from newer servers are skipped, not fatal.
		logger.Debugf("update %s: skipping unknown type %q", ev.ID, updateType)
	}
}

func (c *Client) applySessionUpdate(ev *wire.UpdateEvent) {
	var body wire.UpdateBodyUpdateSession
	if err := ev.DecodeBody(&body); err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}
	if body.ID == "" {
		c.emitError("update %s: missing session id", ev.ID)
		return
	}

	enc, err := c.sessionEncryption(body.ID)
	if err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}

	c.mu.Lock()
	sess := c.sessions[body.ID]
	c.mu.Unlock()
	if sess == nil {
		// First sight of this session; updates merge onto an empty shell.
		sess = &types.Session{ID: body.ID, CreatedAt: ev.CreatedAt}
	}

	next, _, err := session.BuildUpdatedSessionFromUpdate(sess, &body, ev.Seq, ev.CreatedAt, enc)
	if err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}
	if next == sess && sess.Seq != 0 {
		return
	}
	c.storeSession(next)
}

func (c *Client) applyNewMessage(ev *wire.UpdateEvent) {
	var body wire.UpdateBodyNewMessage
	if err := ev.DecodeBody(&body); err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}
	if body.SID == "" {
		c.emitError("update %s: missing session id", ev.ID)
		return
	}

	c.mu.Lock()
	sess := c.sessions[body.SID]
	c.mu.Unlock()
	if sess == nil {
		sess = &types.Session{ID: body.SID, CreatedAt: ev.CreatedAt}
	}

	next := session.ApplyMessageSeq(sess, ev.Seq, body.Message.Seq, ev.CreatedAt)
	if next != sess || sess.Seq == 0 {
		c.storeSession(next)
	}

	// A message echoing our own local id confirms delivery of the in-flight
	// queue item.
	if body.Message.LocalID != nil && *body.Message.LocalID != "" {
		c.confirmDelivered(body.SID, *body.Message.LocalID)
	}
}

func (c *Client) applyAccountUpdate(ev *wire.UpdateEvent) {
	var body wire.UpdateBodyUpdateAccount
	if err := ev.DecodeBody(&body); err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}

	c.mu.Lock()
	enc := c.accountEnc
	profile, profileVersion := c.profile, c.profileVersion
	settings, settingsVersion := c.settings, c.settingsVersion
	c.mu.Unlock()
	if enc == nil {
		c.emitError("update %s: credentials not set", ev.ID)
		return
	}

	changed := false
	nextProfile, nextProfileVersion, err := session.ApplyProfileUpdate(profile, profileVersion, body.Profile, enc)
	if err != nil {
		c.emitError("update %s: %v", ev.ID, err)
	} else if nextProfileVersion != profileVersion {
		changed = true
	}
	nextSettings, nextSettingsVersion, err := session.ApplySettingsUpdate(settings, settingsVersion, body.Settings, enc)
	if err != nil {
		c.emitError("update %s: %v", ev.ID, err)
	} else if nextSettingsVersion != settingsVersion {
		changed = true
	}
	if !changed {
		return
	}

	c.mu.Lock()
	c.profile, c.profileVersion = nextProfile, nextProfileVersion
	c.settings, c.settingsVersion = nextSettings, nextSettingsVersion
	c.mu.Unlock()
	c.notifyListener(func(l Listener) { l.OnAccountChanged() })
}

func (c *Client) applyFeedItem(ev *wire.UpdateEvent) {
	var body wire.UpdateBodyNewFeedItem
	if err := ev.DecodeBody(&body); err != nil {
		c.emitError("update %s: %v", ev.ID, err)
		return
	}

	c.mu.Lock()
	enc := c.accountEnc
	c.mu.Unlock()
	if enc == nil {
		c.emitError("update %s: credentials not set", ev.ID)
		return
	}
	payload, err := enc.DecryptRaw(body.Body.C)
	if err != nil {
		c.emitError("update %s: decrypt feed item: %v", ev.ID, err)
		return
	}

	item := types.FeedItem{
		ID:        body.ID,
		Counter:   body.Counter,
		Body:      string(payload),
		CreatedAt: body.CreatedAt,
	}

	c.mu.Lock()
	before := len(c.feed)
	c.feed = session.MergeFeedItem(c.feed, item)
	changed := len(c.feed) != before
	c.mu.Unlock()
	if changed {
		c.notifyListener(func(l Listener) { l.OnAccountChanged() })
	}
}

// storeSession installs a replacement session snapshot, persists it and
// notifies the listener.
func (c *Client) storeSession(sess *types.Session) {
	if sess == nil {
		return
	}
	c.mu.Lock()
	c.sessions[sess.ID] = sess
	home := c.perchHome
	c.mu.Unlock()

	if home != "" {
		if err := storage.SaveSessionSnapshot(home, sess); err != nil {
			logger.Warnf("session %s: snapshot write failed: %v", sess.ID, err)
		}
	}
	c.notifyListener(func(l Listener) { l.OnSessionChanged(sess.ID) })
}

type managerEntry struct {
	id      string
	manager *reconnect.Manager
}
