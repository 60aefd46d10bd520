package objstore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the size of a secretbox sealing key.
const KeySize = 32

const nonceSize = 24

// ErrUnseal is returned when sealed object data cannot be opened.
var ErrUnseal = errors.New("objstore: unseal failed")

// Sealer protects object data at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Unseal(sealed []byte) ([]byte, error)
}

// SecretboxSealer seals with nacl/secretbox under a fixed key.
// Sealed data is nonce (24 bytes) followed by the box.
type SecretboxSealer struct {
	key [KeySize]byte
}

var _ Sealer = (*SecretboxSealer)(nil)

// NewSecretboxSealer returns a sealer using key.
func NewSecretboxSealer(key [KeySize]byte) *SecretboxSealer {
	return &SecretboxSealer{key: key}
}

// ParseKey decodes a hex encoded sealing key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("objstore: seal key: %w", err)
	}
	if len(b) != KeySize {
		return key, fmt.Errorf("objstore: seal key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(key[:], b)
	return key, nil
}

func (s *SecretboxSealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *SecretboxSealer) Unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed data too short", ErrUnseal)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return plaintext, nil
}

// sealing applies an optional Sealer.
type sealing struct {
	sealer Sealer
}

func (s sealing) seal(data []byte) ([]byte, error) {
	if s.sealer == nil {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	return s.sealer.Seal(data)
}

func (s sealing) unseal(raw []byte) ([]byte, error) {
	if s.sealer == nil {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	return s.sealer.Unseal(raw)
}
