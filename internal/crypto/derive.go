package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// DeriveKey derives a 32-byte key from the master secret using an
// HMAC-SHA512 key tree with a usage string and a path.
//
// Every client derives the same tree from the same master secret, which is
// how two devices agree on content keys without ever exchanging them.
func DeriveKey(master []byte, usage string, path []string) ([]byte, error) {
	key, chain, err := deriveTreeRoot(master, usage)
	if err != nil {
		return nil, err
	}
	for _, index := range path {
		key, chain, err = deriveTreeChild(chain, index)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func deriveTreeRoot(seed []byte, usage string) ([]byte, []byte, error) {
	h := hmac.New(sha512.New, []byte(usage+" Master Seed"))
	if _, err := h.Write(seed); err != nil {
		return nil, nil, err
	}
	sum := h.Sum(nil)
	return sum[:32], sum[32:], nil
}

func deriveTreeChild(chainCode []byte, index string) ([]byte, []byte, error) {
	data := append([]byte{0x00}, []byte(index)...)
	h := hmac.New(sha512.New, chainCode)
	if _, err := h.Write(data); err != nil {
		return nil, nil, err
	}
	sum := h.Sum(nil)
	return sum[:32], sum[32:], nil
}

// DeriveContentKeyPair derives the curve25519 content keypair used to unwrap
// per-session data keys.
func DeriveContentKeyPair(master []byte) (publicKey *[32]byte, privateKey *[32]byte, err error) {
	seed, err := DeriveKey(master, "Perch EnCoder", []string{"content"})
	if err != nil {
		return nil, nil, err
	}
	if len(seed) != 32 {
		return nil, nil, fmt.Errorf("invalid content seed length: %d", len(seed))
	}

	var priv [32]byte
	copy(priv[:], seed)

	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("derive public key: %w", err)
	}
	var pub [32]byte
	copy(pub[:], pubBytes)
	return &pub, &priv, nil
}

// DecryptDataEncryptionKey unwraps a session data key shared through the
// server (box envelope, versioned with a leading 0x00 byte).
func DecryptDataEncryptionKey(encryptedB64 string, master []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encryptedB64)
	if err != nil {
		return nil, fmt.Errorf("decode data key: %w", err)
	}
	if len(raw) < 2 || raw[0] != 0x00 {
		return nil, fmt.Errorf("unsupported data key format")
	}

	_, priv, err := DeriveContentKeyPair(master)
	if err != nil {
		return nil, err
	}
	dataKey, err := OpenBox(raw[1:], priv)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	if len(dataKey) != 32 {
		return nil, fmt.Errorf("invalid data key length: %d", len(dataKey))
	}
	return dataKey, nil
}
