package session

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perchhq/perch/internal/protocol/wire"
	"github.com/perchhq/perch/pkg/types"
)

// plaintextEncryption treats ciphertext as plain JSON. Version 666 always
// fails, to exercise the corrupt-delivery path.
type plaintextEncryption struct{}

func (plaintextEncryption) DecryptMetadata(version int64, ciphertext string) (*types.Metadata, error) {
	if version == 666 {
		return nil, fmt.Errorf("bad envelope")
	}
	var meta types.Metadata
	if err := json.Unmarshal([]byte(ciphertext), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (plaintextEncryption) DecryptAgentState(version int64, ciphertext string) (*types.AgentState, error) {
	if version == 666 {
		return nil, fmt.Errorf("bad envelope")
	}
	var state types.AgentState
	if err := json.Unmarshal([]byte(ciphertext), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func baseSession() *types.Session {
	return &types.Session{
		ID:                "s1",
		Seq:               5,
		Metadata:          &types.Metadata{Path: "/work", Flavor: "claude"},
		MetadataVersion:   3,
		AgentState:        &types.AgentState{ControlledByUser: true},
		AgentStateVersion: 2,
		CreatedAt:         1000,
		UpdatedAt:         1000,
	}
}

func TestNextSessionSeq(t *testing.T) {
	require.Equal(t, int64(9), NextSessionSeq(5, wire.UpdateTypeUpdateSession, 9, 0))
	require.Equal(t, int64(9), NextSessionSeq(5, wire.UpdateTypeNewMessage, 9, 4))
	require.Equal(t, int64(12), NextSessionSeq(5, wire.UpdateTypeNewMessage, 9, 12))
	// Regressions are reported as-is; callers drop them.
	require.Equal(t, int64(3), NextSessionSeq(5, wire.UpdateTypeUpdateSession, 3, 0))
}

func TestApplyMetadataOnlyUpdate(t *testing.T) {
	sess := baseSession()
	body := &wire.UpdateBodyUpdateSession{
		T:        wire.UpdateTypeUpdateSession,
		ID:       "s1",
		Metadata: &wire.VersionedString{Value: `{"path":"/elsewhere"}`, Version: 4},
	}

	next, state, err := BuildUpdatedSessionFromUpdate(sess, body, 6, 2000, plaintextEncryption{})
	require.NoError(t, err)
	require.Nil(t, state, "no agentState in the update")
	require.Equal(t, int64(6), next.Seq)
	require.Equal(t, "/elsewhere", next.Metadata.Path)
	require.Equal(t, int64(4), next.MetadataVersion)
	// Untouched document carried over.
	require.Same(t, sess.AgentState, next.AgentState)
	require.Equal(t, int64(2), next.AgentStateVersion)
	// Server-stamped, not local clock.
	require.Equal(t, int64(2000), next.UpdatedAt)

	// Input snapshot untouched.
	require.Equal(t, int64(5), sess.Seq)
	require.Equal(t, "/work", sess.Metadata.Path)
}

func TestApplyAgentStateUpdate(t *testing.T) {
	sess := baseSession()
	body := &wire.UpdateBodyUpdateSession{
		T:          wire.UpdateTypeUpdateSession,
		ID:         "s1",
		AgentState: &wire.VersionedString{Value: `{"controlledByUser":false}`, Version: 3},
	}

	next, state, err := BuildUpdatedSessionFromUpdate(sess, body, 6, 2000, plaintextEncryption{})
	require.NoError(t, err)
	require.NotNil(t, state)
	require.False(t, state.ControlledByUser)
	require.Same(t, state, next.AgentState)
	require.Equal(t, int64(3), next.AgentStateVersion)
}

func TestApplyDropsStaleSeq(t *testing.T) {
	sess := baseSession()
	body := &wire.UpdateBodyUpdateSession{
		T:        wire.UpdateTypeUpdateSession,
		ID:       "s1",
		Metadata: &wire.VersionedString{Value: `{"path":"/old"}`, Version: 9},
	}

	for _, seq := range []int64{5, 4, 0} {
		next, state, err := BuildUpdatedSessionFromUpdate(sess, body, seq, 2000, plaintextEncryption{})
		require.NoError(t, err)
		require.Nil(t, state)
		require.Same(t, sess, next, "stale update must be a no-op merge")
	}
}

func TestApplySeqMonotonicAcrossUpdates(t *testing.T) {
	sess := baseSession()
	for i, seq := range []int64{6, 7, 7, 6, 9} {
		body := &wire.UpdateBodyUpdateSession{
			T:        wire.UpdateTypeUpdateSession,
			ID:       "s1",
			Metadata: &wire.VersionedString{Value: `{"path":"/w"}`, Version: int64(10 + i)},
		}
		next, _, err := BuildUpdatedSessionFromUpdate(sess, body, seq, 2000+seq, plaintextEncryption{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, next.Seq, sess.Seq, "seq never decreases")
		sess = next
	}
	require.Equal(t, int64(9), sess.Seq)
}

func TestApplyStaleDocumentVersionIsIgnored(t *testing.T) {
	sess := baseSession()
	body := &wire.UpdateBodyUpdateSession{
		T:        wire.UpdateTypeUpdateSession,
		ID:       "s1",
		Metadata: &wire.VersionedString{Value: `{"path":"/stale"}`, Version: 3},
	}

	next, _, err := BuildUpdatedSessionFromUpdate(sess, body, 6, 2000, plaintextEncryption{})
	require.NoError(t, err)
	require.Equal(t, int64(6), next.Seq, "seq still advances")
	require.Same(t, sess.Metadata, next.Metadata, "stale document version leaves metadata alone")
	require.Equal(t, int64(3), next.MetadataVersion)
}

func TestApplyDecryptionFailureKeepsSnapshot(t *testing.T) {
	sess := baseSession()
	body := &wire.UpdateBodyUpdateSession{
		T:        wire.UpdateTypeUpdateSession,
		ID:       "s1",
		Metadata: &wire.VersionedString{Value: "garbage", Version: 666},
	}

	next, state, err := BuildUpdatedSessionFromUpdate(sess, body, 6, 2000, plaintextEncryption{})
	require.Error(t, err)
	require.Nil(t, state)
	require.Same(t, sess, next, "previous snapshot survives a corrupt delivery")
	require.Equal(t, int64(5), sess.Seq)
}

func TestApplyMessageSeq(t *testing.T) {
	sess := baseSession()

	next := ApplyMessageSeq(sess, 6, 12, 2000)
	require.Equal(t, int64(12), next.Seq)
	require.Equal(t, int64(2000), next.UpdatedAt)

	require.Same(t, next, ApplyMessageSeq(next, 6, 12, 2500), "duplicate message delivery is a no-op")
}
