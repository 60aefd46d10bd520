//go:build !windows

package objstore

// DefaultSealer returns the platform sealer. Without a key objects are
// stored unsealed and protection relies on the data directory permissions.
func DefaultSealer(key *[KeySize]byte) Sealer {
	if key == nil {
		return nil
	}
	return NewSecretboxSealer(*key)
}
