package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// GenerateMasterKey generates a new 32-byte master secret.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// SaveMasterKey saves the master secret to a file, base64 encoded, with
// restrictive permissions.
func SaveMasterKey(path string, key []byte) error {
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// LoadMasterKey loads the master secret from a file.
func LoadMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: %d (expected 32)", len(key))
	}
	return key, nil
}

// GetOrCreateMasterKey loads the master secret, generating and persisting a
// fresh one on first run.
func GetOrCreateMasterKey(path string) ([]byte, error) {
	key, err := LoadMasterKey(path)
	if err == nil {
		return key, nil
	}

	key, err = GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	if err := SaveMasterKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}
