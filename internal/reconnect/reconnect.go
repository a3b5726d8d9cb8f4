// Package reconnect presents a stable session-client façade across transport
// drops.
//
// Dependent components (permission handlers, message queues, view layers)
// hold the Manager instead of a raw session client. On transport loss the
// Manager keeps serving the last client's optimistic local state; when a
// fresh authoritative client becomes available it is swapped in atomically
// and every registered callback observes the new reference exactly once.
package reconnect

import (
	"sync"

	"github.com/perchhq/perch/pkg/logger"
	"github.com/perchhq/perch/pkg/types"
)

// State is the manager's connection state.
type State string

const (
	// StateConnected means a live, authoritative session client is served.
	StateConnected State = "connected"
	// StateOfflineStub means the server was unreachable at session-creation
	// time and a locally synthesized session is served so the UI stays
	// usable.
	StateOfflineStub State = "offline-stub"
	// StateReconnecting means the transport dropped and a fresh client is
	// being established.
	StateReconnecting State = "reconnecting"
)

// SessionClient is the narrow session façade the manager wraps. The concrete
// client owns transport and encryption; the manager only swaps references.
type SessionClient interface {
	// SessionID returns the id of the wrapped session.
	SessionID() string
	// Session returns the current session snapshot.
	Session() *types.Session
}

// SwapCallback observes a completed session swap.
type SwapCallback func(next SessionClient)

// Manager wraps a SessionClient and serializes swaps against in-flight work.
//
// Invariant: a swap never lands while a send or turn is being processed. A
// swap requested mid-processing is parked and applied atomically once the
// in-flight operation completes, so holders of the old reference are updated
// exactly once with the final client and never observe a half-migrated state.
type Manager struct {
	mu          sync.Mutex
	state       State
	client      SessionClient
	pendingSwap SessionClient
	processing  int
	callbacks   []SwapCallback
	cancelled   bool
}

// NewConnected creates a manager serving a live session client.
func NewConnected(client SessionClient) *Manager {
	return &Manager{state: StateConnected, client: client}
}

// NewOfflineStub creates a manager serving locally synthesized session state
// until the server becomes reachable.
func NewOfflineStub(stub SessionClient) *Manager {
	return &Manager{state: StateOfflineStub, client: stub}
}

// Client returns the currently served session client. During reconnection
// this is the previous (possibly stale) client, which keeps the UI usable.
func (m *Manager) Client() SessionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnSessionSwap registers a callback invoked after each applied swap.
// Callbacks run outside the manager lock, in registration order.
func (m *Manager) OnSessionSwap(cb SwapCallback) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MarkReconnecting records transport loss. The current client keeps being
// served until a replacement arrives.
func (m *Manager) MarkReconnecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.state = StateReconnecting
}

// BeginProcessing marks the start of an in-flight send or turn. Swaps
// offered while any processing is active are deferred. Calls nest.
func (m *Manager) BeginProcessing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processing++
}

// EndProcessing marks the end of an in-flight operation. When the last
// nested operation completes, a deferred swap (if any) is applied.
func (m *Manager) EndProcessing() {
	m.mu.Lock()
	if m.processing > 0 {
		m.processing--
	}
	var applied SessionClient
	var callbacks []SwapCallback
	if m.processing == 0 && m.pendingSwap != nil && !m.cancelled {
		applied = m.pendingSwap
		m.pendingSwap = nil
		m.client = applied
		m.state = StateConnected
		callbacks = append([]SwapCallback(nil), m.callbacks...)
	}
	m.mu.Unlock()

	if applied != nil {
		logger.Debugf("session %s: applied deferred swap", applied.SessionID())
		for _, cb := range callbacks {
			cb(applied)
		}
	}
}

// OfferSwap hands the manager a fresh authoritative session client.
//
// The swap is applied immediately when no operation is in flight; otherwise
// it is parked, and a later offer replaces the parked one so only the final
// reference is ever propagated. Offers after Cancel are dropped.
func (m *Manager) OfferSwap(next SessionClient) {
	if next == nil {
		return
	}
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return
	}
	if m.processing > 0 {
		m.pendingSwap = next
		m.mu.Unlock()
		logger.Debugf("session %s: swap deferred, turn in flight", next.SessionID())
		return
	}
	m.client = next
	m.state = StateConnected
	callbacks := append([]SwapCallback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(next)
	}
}

// Cancel stops the manager on session teardown: parked swaps are dropped and
// later offers are ignored. The retry loop driving reconnection should stop
// when it observes Cancelled.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
	m.pendingSwap = nil
}

// Cancelled reports whether the manager has been torn down.
func (m *Manager) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}
