//go:build windows

package objstore

import (
	"fmt"

	"github.com/billgraziano/dpapi"
)

// DPAPISealer seals object data with Windows DPAPI.
type DPAPISealer struct{}

var _ Sealer = DPAPISealer{}

func (DPAPISealer) Seal(plaintext []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plaintext)
}

func (DPAPISealer) Unseal(sealed []byte) ([]byte, error) {
	b, err := dpapi.DecryptBytes(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	return b, nil
}

// DefaultSealer returns the platform sealer. Without a key DPAPI is used.
func DefaultSealer(key *[KeySize]byte) Sealer {
	if key == nil {
		return DPAPISealer{}
	}
	return NewSecretboxSealer(*key)
}
