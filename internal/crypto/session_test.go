package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perchhq/perch/pkg/types"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestDataKeyEnvelopeRoundTrip(t *testing.T) {
	enc, err := NewSessionEncryption(randomKey(t), nil)
	require.NoError(t, err)

	meta := &types.Metadata{Path: "/work", Flavor: "claude", MachineID: "m1"}
	cipher, err := enc.EncryptDocument(meta)
	require.NoError(t, err)

	got, err := enc.DecryptMetadata(1, cipher)
	require.NoError(t, err)
	require.Equal(t, meta, got)
}

func TestLegacyEnvelopeRoundTrip(t *testing.T) {
	secret, err := LegacySecretFromMaster(randomKey(t))
	require.NoError(t, err)
	enc, err := NewSessionEncryption(nil, secret)
	require.NoError(t, err)

	state := &types.AgentState{ControlledByUser: true, PermissionMode: "read-only"}
	cipher, err := enc.EncryptDocument(state)
	require.NoError(t, err)

	got, err := enc.DecryptAgentState(2, cipher)
	require.NoError(t, err)
	require.Equal(t, state, got)
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	enc, err := NewSessionEncryption(randomKey(t), nil)
	require.NoError(t, err)

	cipher, err := enc.EncryptDocument(&types.Metadata{Path: "/work"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(cipher)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = enc.DecryptMetadata(1, base64.StdEncoding.EncodeToString(raw))
	require.Error(t, err)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc, err := NewSessionEncryption(randomKey(t), nil)
	require.NoError(t, err)
	other, err := NewSessionEncryption(randomKey(t), nil)
	require.NoError(t, err)

	cipher, err := enc.EncryptDocument(&types.Settings{Experiments: map[string]bool{"x": true}})
	require.NoError(t, err)
	_, err = other.DecryptSettings(1, cipher)
	require.Error(t, err)
}

func TestDataKeyUnwrapRoundTrip(t *testing.T) {
	master := randomKey(t)
	pub, _, err := DeriveContentKeyPair(master)
	require.NoError(t, err)

	dataKey := randomKey(t)
	sealed, err := SealBox(dataKey, pub)
	require.NoError(t, err)
	wrapped := base64.StdEncoding.EncodeToString(append([]byte{0x00}, sealed...))

	got, err := DecryptDataEncryptionKey(wrapped, master)
	require.NoError(t, err)
	require.Equal(t, dataKey, got)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	master := randomKey(t)
	a, err := DeriveKey(master, "Perch EnCoder", []string{"content"})
	require.NoError(t, err)
	b, err := DeriveKey(master, "Perch EnCoder", []string{"content"})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := DeriveKey(master, "Perch EnCoder", []string{"legacy"})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestTokenMintAndVerify(t *testing.T) {
	minter := NewTokenMinter(randomKey(t))

	token, err := minter.Mint("user-1", time.Hour)
	require.NoError(t, err)

	claims, err := minter.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)

	other := NewTokenMinter(randomKey(t))
	_, err = other.Verify(token)
	require.Error(t, err)
}
