package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/perchhq/perch/internal/protocol/wire"
	"github.com/perchhq/perch/pkg/logger"
)

// EventType represents the Socket.IO event names used by the sync protocol.
type EventType string

const (
	EventUpdate    EventType = "update"
	EventEphemeral EventType = "ephemeral"
	EventMessage   EventType = "message"
)

// ErrVersionMismatch is returned when an optimistic metadata/state write
// raced with another writer; the caller should re-merge onto the returned
// authoritative value and retry.
var ErrVersionMismatch = errors.New("version mismatch")

// Client is a Socket.IO client connection scoped to a user or a session.
type Client struct {
	serverURL  string
	token      string
	sessionID  string
	clientType string

	mu           sync.RWMutex
	socket       *socket.Socket
	connected    bool
	handlers     map[EventType]func(map[string]interface{})
	onConnect    []func()
	onDisconnect []func(reason string)
	closeOnce    sync.Once
	done         chan struct{}
}

// NewUserClient creates a user-scoped client receiving updates for every
// session of the account.
func NewUserClient(serverURL, token string) *Client {
	return &Client{
		serverURL:  serverURL,
		token:      token,
		clientType: "user-scoped",
		handlers:   make(map[EventType]func(map[string]interface{})),
		done:       make(chan struct{}),
	}
}

// NewSessionClient creates a session-scoped client receiving updates for a
// single session.
func NewSessionClient(serverURL, token, sessionID string) *Client {
	return &Client{
		serverURL:  serverURL,
		token:      token,
		sessionID:  sessionID,
		clientType: "session-scoped",
		handlers:   make(map[EventType]func(map[string]interface{})),
		done:       make(chan struct{}),
	}
}

// On registers an event handler. Handlers run on their own goroutine.
func (c *Client) On(eventType EventType, handler func(map[string]interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = handler
}

// OnConnect registers a connection-established callback.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect registers a connection-lost callback.
func (c *Client) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Connect establishes the Socket.IO connection.
func (c *Client) Connect() error {
	logger.Debugf("connecting to %s (path /v1/updates, %s)", c.serverURL, c.clientType)

	opts := socket.DefaultOptions()
	opts.SetPath("/v1/updates")
	opts.SetTransports(sockettypes.NewSet(socket.Polling, socket.WebSocket))

	auth := map[string]interface{}{
		"token":      c.token,
		"clientType": c.clientType,
	}
	if c.clientType == "session-scoped" {
		auth["sessionId"] = c.sessionID
	}
	opts.SetAuth(auth)

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()

	sock.On(sockettypes.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		callbacks := make([]func(), len(c.onConnect))
		copy(callbacks, c.onConnect)
		c.mu.Unlock()

		logger.Debugf("socket connected: %s", sock.Id())
		for _, fn := range callbacks {
			fn()
		}
	})

	sock.On(sockettypes.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		c.mu.Lock()
		c.connected = false
		callbacks := make([]func(string), len(c.onDisconnect))
		copy(callbacks, c.onDisconnect)
		c.mu.Unlock()

		logger.Debugf("socket disconnected: %s", reason)
		for _, fn := range callbacks {
			fn(reason)
		}
	})

	sock.On(sockettypes.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("socket connection error: %v", args[0])
		}
	})

	for _, eventType := range []EventType{EventUpdate, EventEphemeral, EventMessage} {
		et := eventType
		sock.On(sockettypes.EventName(et), func(args ...any) {
			var data map[string]interface{}
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					data = m
				}
			}

			c.mu.RLock()
			handler, ok := c.handlers[et]
			c.mu.RUnlock()

			if ok && handler != nil {
				go handler(data)
			}
		})
	}

	return nil
}

// WaitForConnect waits for the socket to report connected or times out.
func (c *Client) WaitForConnect(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.IsConnected()
}

// Emit sends an event to the server without waiting for an ACK.
func (c *Client) Emit(event string, data map[string]interface{}) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return fmt.Errorf("not connected")
	}
	sock.Emit(event, data)
	return nil
}

// EmitWithAck sends an event and waits for an ACK response.
func (c *Client) EmitWithAck(event string, data map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return nil, fmt.Errorf("not connected")
	}

	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)

	sock.Emit(event, data, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) == 0 {
			resultCh <- nil
			return
		}
		if payload, ok := args[0].(map[string]interface{}); ok {
			resultCh <- payload
			return
		}
		resultCh <- nil
	})

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("ack timeout")
	}
}

// Close closes the Socket.IO connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		c.socket.Disconnect()
		c.socket = nil
	}
	c.connected = false
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	if sock != nil && sock.Connected() {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		return true
	}
	return false
}

// parseVersionedAck decodes the common result/version ACK shape.
func parseVersionedAck(resp map[string]interface{}) (*wire.VersionedAck, error) {
	if resp == nil {
		return nil, fmt.Errorf("missing ack")
	}
	ack := &wire.VersionedAck{}
	ack.Result, _ = resp["result"].(string)
	ack.Version = getInt64(resp["version"])
	ack.Metadata, _ = resp["metadata"].(string)
	ack.AgentState, _ = resp["agentState"].(string)
	if msg, ok := resp["message"].(string); ok {
		ack.Message = msg
	}
	return ack, nil
}

func getInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
