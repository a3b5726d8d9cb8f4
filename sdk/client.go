// Package sdk is the embeddable client façade.
//
// It owns the socket transport, the encryption keys and the in-memory session
// table, and exposes the operations a view layer needs: enqueue and manage
// pending messages, flush the queue, wake dormant agents, and read unread
// state. All state transitions run on a single dispatcher goroutine; the
// merge functions it calls are pure, so every observer sees either the old
// complete snapshot or the new one.
package sdk

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/perchhq/perch/internal/clock"
	"github.com/perchhq/perch/internal/crypto"
	"github.com/perchhq/perch/internal/reconnect"
	"github.com/perchhq/perch/internal/wake"
	"github.com/perchhq/perch/internal/websocket"
	"github.com/perchhq/perch/pkg/types"
)

// defaultDispatcherQueueSize is the mailbox size used by SDK dispatchers.
const defaultDispatcherQueueSize = 256

// Listener receives SDK events. Methods must be safe to call from any
// goroutine; they are invoked from a dedicated callback dispatcher, never
// from the caller's stack.
type Listener interface {
	// OnConnected is called after the socket connection is established.
	OnConnected()
	// OnDisconnected is called after the socket disconnects.
	OnDisconnected(reason string)
	// OnSessionChanged is called after a session snapshot was replaced.
	OnSessionChanged(sessionID string)
	// OnAccountChanged is called after profile, settings or feed changed.
	OnAccountChanged()
	// OnError delivers non-fatal errors for display or logging.
	OnError(message string)
}

// transport is the server surface the SDK drives. *websocket.Client is the
// production implementation.
type transport interface {
	UpdateMetadata(sessionID string, metadata string, expectedVersion int64) (int64, string, error)
	UpdateState(sessionID string, agentState string, expectedVersion int64) (int64, string, error)
	SendMessage(sessionID string, localID string, contentCipher string) error
	CallMachineRPC(machineID string, method string, paramsCipher string) (json.RawMessage, error)
}

// Client is the embeddable sync client.
type Client struct {
	serverURL string

	mu           sync.Mutex
	token        string
	masterSecret []byte
	legacySecret *[32]byte
	dataKeys     map[string][]byte
	accountEnc   *crypto.SessionEncryption
	perchHome    string

	sessions map[string]*types.Session
	managers map[string]*reconnect.Manager

	profile         *types.Profile
	profileVersion  int64
	settings        *types.Settings
	settingsVersion int64
	feed            []types.FeedItem

	caps     wake.Capabilities
	listener Listener

	socket    *websocket.Client
	transport transport
	clock     *clock.ServerClock

	dispatch  *dispatcher
	callbacks *dispatcher
}

// NewClient creates a client for the given server URL. Credentials must be
// set before Connect.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		dataKeys:  make(map[string][]byte),
		sessions:  make(map[string]*types.Session),
		managers:  make(map[string]*reconnect.Manager),
		caps:      wake.DefaultCapabilities(),
		clock:     &clock.Default,
		dispatch:  newDispatcher(defaultDispatcherQueueSize),
		callbacks: newDispatcher(defaultDispatcherQueueSize),
	}
}

// SetListener registers the listener for SDK events.
func (c *Client) SetListener(listener Listener) {
	_, _ = c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listener = listener
		return nil, nil
	})
}

// SetCredentials installs the auth token and the account master secret. The
// legacy document secret is derived here once; per-session data keys are
// installed separately as they arrive.
func (c *Client) SetCredentials(token string, masterSecret []byte) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		legacy, err := crypto.LegacySecretFromMaster(masterSecret)
		if err != nil {
			return nil, err
		}
		accountEnc, err := crypto.NewSessionEncryption(nil, legacy)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.token = token
		c.masterSecret = append([]byte(nil), masterSecret...)
		c.legacySecret = legacy
		c.accountEnc = accountEnc
		return nil, nil
	})
	return err
}

// SetSessionDataKey installs a session's box-wrapped data encryption key.
func (c *Client) SetSessionDataKey(sessionID string, encryptedKeyB64 string) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		master := c.masterSecret
		c.mu.Unlock()
		if len(master) == 0 {
			return nil, fmt.Errorf("credentials not set")
		}
		key, err := crypto.DecryptDataEncryptionKey(encryptedKeyB64, master)
		if err != nil {
			return nil, fmt.Errorf("unwrap data key for session %s: %w", sessionID, err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.dataKeys[sessionID] = key
		return nil, nil
	})
	return err
}

// SetPerchHome enables on-disk session snapshots under the given directory.
func (c *Client) SetPerchHome(dir string) {
	_, _ = c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.perchHome = dir
		return nil, nil
	})
}

// SetWakeCapabilities replaces the resume gating configuration.
func (c *Client) SetWakeCapabilities(caps wake.Capabilities) {
	_, _ = c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.caps = caps
		return nil, nil
	})
}

// Session returns the current snapshot for a session, or nil when unknown.
func (c *Client) Session(sessionID string) *types.Session {
	v, _ := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.sessions[sessionID], nil
	})
	sess, _ := v.(*types.Session)
	return sess
}

// Sessions returns the ids of all known sessions.
func (c *Client) Sessions() []string {
	v, _ := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		ids := make([]string, 0, len(c.sessions))
		for id := range c.sessions {
			ids = append(ids, id)
		}
		return ids, nil
	})
	ids, _ := v.([]string)
	return ids
}

// Profile returns the current decrypted account profile, or nil.
func (c *Client) Profile() *types.Profile {
	v, _ := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.profile, nil
	})
	profile, _ := v.(*types.Profile)
	return profile
}

// Settings returns the current decrypted settings document, or nil.
func (c *Client) Settings() *types.Settings {
	v, _ := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.settings, nil
	})
	settings, _ := v.(*types.Settings)
	return settings
}

// Feed returns the current feed, newest-counter last.
func (c *Client) Feed() []types.FeedItem {
	v, _ := c.dispatch.call(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return append([]types.FeedItem(nil), c.feed...), nil
	})
	feed, _ := v.([]types.FeedItem)
	return feed
}

// sessionEncryption builds the decryption context for one session: its data
// key when one is installed, else the legacy account secret.
//
// Callers must hold no lock; the result is immutable.
func (c *Client) sessionEncryption(sessionID string) (*crypto.SessionEncryption, error) {
	c.mu.Lock()
	dataKey := c.dataKeys[sessionID]
	legacy := c.legacySecret
	c.mu.Unlock()
	if len(dataKey) == 0 && legacy == nil {
		return nil, fmt.Errorf("no keys for session %s; call SetCredentials first", sessionID)
	}
	return crypto.NewSessionEncryption(dataKey, legacy)
}

// sessionManager returns the reconnect manager façade for a session,
// creating it on first use.
func (c *Client) sessionManager(sessionID string) *reconnect.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.managers[sessionID]; ok {
		return m
	}
	m := reconnect.NewConnected(&sessionHandle{client: c, sessionID: sessionID})
	c.managers[sessionID] = m
	return m
}

// sessionHandle adapts the client's session table to the reconnect façade.
// It always reads the latest snapshot, so a swapped-in handle is never stale.
type sessionHandle struct {
	client    *Client
	sessionID string
}

func (h *sessionHandle) SessionID() string { return h.sessionID }

func (h *sessionHandle) Session() *types.Session {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return h.client.sessions[h.sessionID]
}

// notifyListener runs a listener callback on the callback dispatcher so
// transport goroutines never block on app code.
func (c *Client) notifyListener(fn func(Listener)) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener == nil {
		return
	}
	_ = c.callbacks.do(func() { fn(listener) })
}

func (c *Client) emitError(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	c.notifyListener(func(l Listener) { l.OnError(message) })
}
