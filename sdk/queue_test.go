package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perchhq/perch/internal/clock"
	"github.com/perchhq/perch/internal/crypto"
	"github.com/perchhq/perch/internal/websocket"
	"github.com/perchhq/perch/pkg/types"
)

const testSessionID = "sess-1"

type sentMessage struct {
	sessionID string
	localID   string
	cipher    string
}

type rpcCall struct {
	machineID string
	method    string
	params    string
}

// fakeTransport implements the transport surface in-memory and can inject a
// single version-mismatch response.
type fakeTransport struct {
	mu          sync.Mutex
	version     int64
	lastCipher  string
	updateCalls int

	mismatchVersion int64
	mismatchCipher  string
	mismatchArmed   bool

	stateVersion        int64
	lastStateCipher     string
	stateCalls          int
	stateMismatchV      int64
	stateMismatchCipher string
	stateMismatchArmed  bool

	sent    []sentMessage
	sendErr error
	rpcs    []rpcCall
	rpcErr  error
}

func (f *fakeTransport) UpdateMetadata(sessionID string, metadata string, expectedVersion int64) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.mismatchArmed {
		f.mismatchArmed = false
		return f.mismatchVersion, f.mismatchCipher, websocket.ErrVersionMismatch
	}
	f.version = expectedVersion + 1
	f.lastCipher = metadata
	return f.version, "", nil
}

func (f *fakeTransport) UpdateState(sessionID string, agentState string, expectedVersion int64) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateMismatchArmed {
		f.stateMismatchArmed = false
		return f.stateMismatchV, f.stateMismatchCipher, websocket.ErrVersionMismatch
	}
	f.stateVersion = expectedVersion + 1
	f.lastStateCipher = agentState
	return f.stateVersion, "", nil
}

func (f *fakeTransport) SendMessage(sessionID string, localID string, contentCipher string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return err
	}
	f.sent = append(f.sent, sentMessage{sessionID: sessionID, localID: localID, cipher: contentCipher})
	return nil
}

func (f *fakeTransport) CallMachineRPC(machineID string, method string, paramsCipher string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rpcErr != nil {
		return nil, f.rpcErr
	}
	f.rpcs = append(f.rpcs, rpcCall{machineID: machineID, method: method, params: paramsCipher})
	return json.RawMessage(`{}`), nil
}

func testMasterSecret() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func newTestClient(t *testing.T) (*Client, *fakeTransport, *crypto.SessionEncryption) {
	t.Helper()

	c := NewClient("http://localhost:3005")
	c.clock = &clock.ServerClock{}
	require.NoError(t, c.SetCredentials("test-token", testMasterSecret()))

	fake := &fakeTransport{}
	c.mu.Lock()
	c.transport = fake
	c.mu.Unlock()

	legacy, err := crypto.LegacySecretFromMaster(testMasterSecret())
	require.NoError(t, err)
	enc, err := crypto.NewSessionEncryption(nil, legacy)
	require.NoError(t, err)

	return c, fake, enc
}

func seedSession(c *Client, sess *types.Session) {
	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()
}

func decryptLastMetadata(t *testing.T, fake *fakeTransport, enc *crypto.SessionEncryption) *types.Metadata {
	t.Helper()
	fake.mu.Lock()
	cipher := fake.lastCipher
	version := fake.version
	fake.mu.Unlock()
	require.NotEmpty(t, cipher)
	meta, err := enc.DecryptMetadata(version, cipher)
	require.NoError(t, err)
	return meta
}

func TestEnqueueMessageWritesQueue(t *testing.T) {
	c, fake, enc := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		Seq:             3,
		MetadataVersion: 1,
		Metadata:        &types.Metadata{Path: "/work"},
	})

	localID, err := c.EnqueueMessage(testSessionID, "run the tests")
	require.NoError(t, err)
	require.NotEmpty(t, localID)

	uploaded := decryptLastMetadata(t, fake, enc)
	require.NotNil(t, uploaded.MessageQueueV1)
	require.Len(t, uploaded.MessageQueueV1.Queue, 1)
	require.Equal(t, localID, uploaded.MessageQueueV1.Queue[0].LocalID)
	require.Equal(t, "run the tests", uploaded.MessageQueueV1.Queue[0].Message)
	require.Equal(t, "/work", uploaded.Path)

	sess := c.Session(testSessionID)
	require.EqualValues(t, 2, sess.MetadataVersion)
	require.Len(t, sess.Metadata.MessageQueueV1.Queue, 1)
}

func TestEnqueueRemergesOnVersionMismatch(t *testing.T) {
	c, fake, enc := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Metadata:        &types.Metadata{Path: "/work"},
	})

	// Another device enqueued "remote" and won the race at version 5.
	remoteMeta := &types.Metadata{
		Path: "/work",
		MessageQueueV1: &types.MessageQueueV1{
			V: 1,
			Queue: []types.MessageQueueV1Item{
				{LocalID: "remote-1", Message: "remote", CreatedAt: 100, UpdatedAt: 100},
			},
		},
	}
	remoteCipher, err := enc.EncryptDocument(remoteMeta)
	require.NoError(t, err)
	fake.mismatchArmed = true
	fake.mismatchVersion = 5
	fake.mismatchCipher = remoteCipher

	localID, err := c.EnqueueMessage(testSessionID, "local")
	require.NoError(t, err)

	// The accepted write must carry both items: the remote winner and the
	// re-applied local enqueue.
	uploaded := decryptLastMetadata(t, fake, enc)
	require.Len(t, uploaded.MessageQueueV1.Queue, 2)
	require.Equal(t, "remote-1", uploaded.MessageQueueV1.Queue[0].LocalID)
	require.Equal(t, localID, uploaded.MessageQueueV1.Queue[1].LocalID)

	sess := c.Session(testSessionID)
	require.EqualValues(t, 6, sess.MetadataVersion)
}

func TestMutateMetadataNoOpSkipsWrite(t *testing.T) {
	c, fake, _ := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Metadata:        &types.Metadata{Path: "/work"},
	})

	// Deleting an absent item is a pure no-op and must not hit the server.
	require.NoError(t, c.DeleteQueuedMessage(testSessionID, "nope"))
	require.Equal(t, 0, fake.updateCalls)
}

func TestFlushPendingQueueDeliversInOrder(t *testing.T) {
	c, fake, enc := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Metadata: &types.Metadata{
			Path: "/work",
			MessageQueueV1: &types.MessageQueueV1{
				V: 1,
				Queue: []types.MessageQueueV1Item{
					{LocalID: "m1", Message: "first", CreatedAt: 10, UpdatedAt: 10},
					{LocalID: "m2", Message: "second", CreatedAt: 20, UpdatedAt: 20},
				},
			},
		},
	})

	require.NoError(t, c.FlushPendingQueue(testSessionID))

	require.Len(t, fake.sent, 2)
	require.Equal(t, "m1", fake.sent[0].localID)
	require.Equal(t, "m2", fake.sent[1].localID)

	// Sent content is the sealed message document.
	var content messageContent
	plain, err := enc.DecryptRaw(fake.sent[0].cipher)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(plain, &content))
	require.Equal(t, "first", content.Text)

	sess := c.Session(testSessionID)
	require.Empty(t, sess.Metadata.MessageQueueV1.Queue)
	require.Nil(t, sess.Metadata.MessageQueueV1.InFlight)
}

func TestFlushResolvesStaleInFlightItem(t *testing.T) {
	// A crash between SendMessage and CompleteInFlight leaves a claimed item
	// behind in metadata. The next flush must deliver it and the queued item
	// exactly once each, not loop resending the queue head.
	c, fake, _ := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Metadata: &types.Metadata{
			MessageQueueV1: &types.MessageQueueV1{
				V: 1,
				Queue: []types.MessageQueueV1Item{
					{LocalID: "m1", Message: "queued", CreatedAt: 20, UpdatedAt: 20},
				},
				InFlight: &types.MessageQueueV1InFlight{
					MessageQueueV1Item: types.MessageQueueV1Item{LocalID: "m0", Message: "stranded", CreatedAt: 10, UpdatedAt: 10},
					ClaimedAt:          15,
				},
			},
		},
	})

	require.NoError(t, c.FlushPendingQueue(testSessionID))

	sends := map[string]int{}
	for _, msg := range fake.sent {
		sends[msg.localID]++
	}
	require.Equal(t, map[string]int{"m0": 1, "m1": 1}, sends)
	require.Equal(t, "m0", fake.sent[0].localID, "stranded item redelivers first")

	sess := c.Session(testSessionID)
	require.Empty(t, sess.Metadata.MessageQueueV1.Queue)
	require.Nil(t, sess.Metadata.MessageQueueV1.InFlight)
}

func TestFlushReleasesItemOnSendFailure(t *testing.T) {
	c, fake, _ := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Metadata: &types.Metadata{
			MessageQueueV1: &types.MessageQueueV1{
				V: 1,
				Queue: []types.MessageQueueV1Item{
					{LocalID: "m1", Message: "first", CreatedAt: 10, UpdatedAt: 10},
					{LocalID: "m2", Message: "second", CreatedAt: 20, UpdatedAt: 20},
				},
			},
		},
	})
	fake.sendErr = fmt.Errorf("socket closed")

	err := c.FlushPendingQueue(testSessionID)
	require.Error(t, err)

	// The failed item is back at the head, nothing was lost.
	sess := c.Session(testSessionID)
	q := sess.Metadata.MessageQueueV1
	require.Nil(t, q.InFlight)
	require.Len(t, q.Queue, 2)
	require.Equal(t, "m1", q.Queue[0].LocalID)
}

func TestDiscardAllAndRestoreRoundTrip(t *testing.T) {
	c, _, _ := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Metadata: &types.Metadata{
			MessageQueueV1: &types.MessageQueueV1{
				V: 1,
				Queue: []types.MessageQueueV1Item{
					{LocalID: "m1", Message: "first", CreatedAt: 10, UpdatedAt: 10},
				},
			},
		},
	})

	require.NoError(t, c.DiscardAllQueued(testSessionID, types.DiscardReasonSwitchToLocal))
	require.Empty(t, c.PendingQueue(testSessionID).Queue)
	discarded := c.DiscardedMessages(testSessionID)
	require.Len(t, discarded, 1)
	require.Equal(t, types.DiscardReasonSwitchToLocal, discarded[0].DiscardedReason)

	require.NoError(t, c.RestoreDiscardedMessage(testSessionID, "m1"))
	require.Len(t, c.PendingQueue(testSessionID).Queue, 1)
	require.Empty(t, c.DiscardedMessages(testSessionID))
}

func TestWakeSessionDispatchesResumeRPC(t *testing.T) {
	c, fake, enc := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Presence:        types.PresenceOffline,
		Metadata: &types.Metadata{
			Path:            "/work",
			MachineID:       "machine-9",
			Flavor:          "claude-code",
			ClaudeSessionID: "vendor-1",
		},
	})

	woken, err := c.WakeSessionForPendingQueue(testSessionID)
	require.NoError(t, err)
	require.True(t, woken)

	require.Len(t, fake.rpcs, 1)
	require.Equal(t, "machine-9", fake.rpcs[0].machineID)
	require.Equal(t, resumeSessionMethod, fake.rpcs[0].method)

	plain, err := enc.DecryptRaw(fake.rpcs[0].params)
	require.NoError(t, err)
	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(plain, &params))
	require.Equal(t, "claude", params["agent"])
	require.Equal(t, "vendor-1", params["resume"])
}

func TestWakeSkipsBusyAgent(t *testing.T) {
	c, fake, _ := newTestClient(t)
	seedSession(c, &types.Session{
		ID:              testSessionID,
		MetadataVersion: 1,
		Presence:        types.PresenceOnline,
		Thinking:        true,
		Metadata: &types.Metadata{
			Path:            "/work",
			MachineID:       "machine-9",
			Flavor:          "claude",
			ClaudeSessionID: "vendor-1",
		},
	})

	woken, err := c.WakeSessionForPendingQueue(testSessionID)
	require.NoError(t, err)
	require.False(t, woken)
	require.Empty(t, fake.rpcs)
}
