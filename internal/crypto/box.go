package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// SealBox encrypts data for a recipient's public key using TweetNaCl Box
// with an ephemeral sender key.
// Format: [ephemeral public key (32 bytes)][nonce (24 bytes)][ciphertext].
//
// Used to unwrap per-session data keys shared through the server.
func SealBox(data []byte, recipientPublicKey *[32]byte) ([]byte, error) {
	ephemeralPublic, ephemeralPrivate, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := box.Seal(nil, data, &nonce, recipientPublicKey, ephemeralPrivate)

	out := make([]byte, 32+24+len(sealed))
	copy(out[:32], ephemeralPublic[:])
	copy(out[32:56], nonce[:])
	copy(out[56:], sealed)
	return out, nil
}

// OpenBox decrypts a SealBox envelope with the recipient's secret key.
func OpenBox(envelope []byte, recipientSecretKey *[32]byte) ([]byte, error) {
	if len(envelope) < 32+24 {
		return nil, fmt.Errorf("envelope too short")
	}
	var ephemeralPublic [32]byte
	copy(ephemeralPublic[:], envelope[:32])
	var nonce [24]byte
	copy(nonce[:], envelope[32:56])

	plaintext, ok := box.Open(nil, envelope[56:], &nonce, &ephemeralPublic, recipientSecretKey)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}
	return plaintext, nil
}
