package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"wormhole/internal/domain"
)

// NonceBytes is the size of the random nonce prepended to every box.
const NonceBytes = 24

var (
	// ErrDecrypt is returned for any box that fails authentication.
	ErrDecrypt = fmt.Errorf("secretbox: open failed: %w", domain.ErrCorrupted)

	errKeySize = errors.New("secretbox: key must be 32 bytes")
)

// Seal encrypts and authenticates plaintext under key. The output is the
// random nonce followed by the secretbox.
func Seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeyBytes {
		return nil, errKeySize
	}
	var k [KeyBytes]byte
	copy(k[:], key)
	defer Wipe(k[:])

	var nonce [NonceBytes]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, NonceBytes, NonceBytes+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &k), nil
}

// Open reverses Seal. It never returns partial plaintext.
func Open(key, box []byte) ([]byte, error) {
	if len(key) != KeyBytes {
		return nil, errKeySize
	}
	if len(box) < NonceBytes+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var k [KeyBytes]byte
	copy(k[:], key)
	defer Wipe(k[:])

	var nonce [NonceBytes]byte
	copy(nonce[:], box[:NonceBytes])
	out, ok := secretbox.Open(nil, box[NonceBytes:], &nonce, &k)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}
