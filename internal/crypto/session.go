package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/perchhq/perch/pkg/types"
)

// SessionEncryption decrypts the versioned documents of one session.
//
// Sessions created with a per-session data key use the AES-GCM envelope;
// older sessions fall back to the legacy secretbox secret derived from the
// master key. It satisfies the session.Encryption and
// session.AccountEncryption contracts.
type SessionEncryption struct {
	dataKey      []byte
	legacySecret *[32]byte
}

// NewSessionEncryption builds a SessionEncryption from whichever keys the
// session has. Either key may be nil, but not both.
func NewSessionEncryption(dataKey []byte, legacySecret *[32]byte) (*SessionEncryption, error) {
	if len(dataKey) == 0 && legacySecret == nil {
		return nil, fmt.Errorf("no decryption key available")
	}
	if len(dataKey) != 0 && len(dataKey) != 32 {
		return nil, fmt.Errorf("data key must be 32 bytes")
	}
	return &SessionEncryption{dataKey: dataKey, legacySecret: legacySecret}, nil
}

// LegacySecretFromMaster derives the legacy secretbox secret for pre-data-key
// sessions.
func LegacySecretFromMaster(master []byte) (*[32]byte, error) {
	derived, err := DeriveKey(master, "Perch EnCoder", []string{"legacy"})
	if err != nil {
		return nil, err
	}
	var secret [32]byte
	copy(secret[:], derived)
	return &secret, nil
}

// DecryptMetadata decrypts a session metadata document.
func (e *SessionEncryption) DecryptMetadata(version int64, ciphertext string) (*types.Metadata, error) {
	var meta types.Metadata
	if err := e.open(ciphertext, &meta); err != nil {
		return nil, fmt.Errorf("metadata v%d: %w", version, err)
	}
	return &meta, nil
}

// DecryptAgentState decrypts an agent state document.
func (e *SessionEncryption) DecryptAgentState(version int64, ciphertext string) (*types.AgentState, error) {
	var state types.AgentState
	if err := e.open(ciphertext, &state); err != nil {
		return nil, fmt.Errorf("agentState v%d: %w", version, err)
	}
	return &state, nil
}

// DecryptProfile decrypts the account profile document.
func (e *SessionEncryption) DecryptProfile(version int64, ciphertext string) (*types.Profile, error) {
	var profile types.Profile
	if err := e.open(ciphertext, &profile); err != nil {
		return nil, fmt.Errorf("profile v%d: %w", version, err)
	}
	return &profile, nil
}

// DecryptSettings decrypts the synced settings document.
func (e *SessionEncryption) DecryptSettings(version int64, ciphertext string) (*types.Settings, error) {
	var settings types.Settings
	if err := e.open(ciphertext, &settings); err != nil {
		return nil, fmt.Errorf("settings v%d: %w", version, err)
	}
	return &settings, nil
}

// EncryptDocument seals a document for upload with the strongest available
// scheme, returning base64 ciphertext.
func (e *SessionEncryption) EncryptDocument(doc any) (string, error) {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	var envelope []byte
	if len(e.dataKey) != 0 {
		envelope, err = SealWithDataKey(plaintext, e.dataKey)
	} else {
		envelope, err = SealLegacy(plaintext, e.legacySecret)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptRaw decrypts a ciphertext without interpreting the plaintext. Used
// for payloads whose schema is owned by the caller (feed bodies).
func (e *SessionEncryption) DecryptRaw(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(e.dataKey) != 0 {
		return OpenWithDataKey(raw, e.dataKey)
	}
	return OpenLegacy(raw, e.legacySecret)
}

func (e *SessionEncryption) open(ciphertext string, target any) error {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}
	var plaintext []byte
	if len(e.dataKey) != 0 {
		plaintext, err = OpenWithDataKey(raw, e.dataKey)
	} else {
		plaintext, err = OpenLegacy(raw, e.legacySecret)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, target); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}
