// Package crypto implements the field encryption envelopes used for synced
// documents.
//
// Two schemes are in circulation: the legacy TweetNaCl SecretBox envelope
// (accounts created before per-session data keys) and the AES-256-GCM
// data-key envelope. Both operate on raw bytes; document (un)marshalling is
// the caller's concern.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// dataKeyVersion is the envelope version byte for the AES-GCM scheme.
const dataKeyVersion = 0

// SealLegacy encrypts plaintext with TweetNaCl SecretBox
// (XSalsa20-Poly1305). Format: [nonce (24 bytes)][ciphertext + auth tag].
func SealLegacy(plaintext []byte, secret *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, plaintext, &nonce, secret)

	out := make([]byte, 24+len(sealed))
	copy(out[:24], nonce[:])
	copy(out[24:], sealed)
	return out, nil
}

// OpenLegacy decrypts a SealLegacy envelope.
func OpenLegacy(envelope []byte, secret *[32]byte) ([]byte, error) {
	if len(envelope) < 24 {
		return nil, fmt.Errorf("envelope too short")
	}
	var nonce [24]byte
	copy(nonce[:], envelope[:24])

	plaintext, ok := secretbox.Open(nil, envelope[24:], &nonce, secret)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}
	return plaintext, nil
}

// SealWithDataKey encrypts plaintext with AES-256-GCM under a per-session
// data key. Format: [version (1 byte)][nonce (12 bytes)][ciphertext + tag].
func SealWithDataKey(plaintext []byte, dataKey []byte) ([]byte, error) {
	gcm, err := dataKeyAEAD(dataKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 1+len(nonce)+len(sealed))
	out[0] = dataKeyVersion
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], sealed)
	return out, nil
}

// OpenWithDataKey decrypts a SealWithDataKey envelope.
func OpenWithDataKey(envelope []byte, dataKey []byte) ([]byte, error) {
	gcm, err := dataKeyAEAD(dataKey)
	if err != nil {
		return nil, err
	}
	if len(envelope) < 1+gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("envelope too short")
	}
	if envelope[0] != dataKeyVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope[0])
	}
	nonce := envelope[1 : 1+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, envelope[1+gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func dataKeyAEAD(dataKey []byte) (cipher.AEAD, error) {
	if len(dataKey) != 32 {
		return nil, fmt.Errorf("data key must be 32 bytes")
	}
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
