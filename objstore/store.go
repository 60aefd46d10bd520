// Package objstore provides the persistent object storage owned by the
// isolated environment.
//
// Objects are opaque, named, byte-addressable containers. A handle is opened
// with access flags and behaves like a file: Read, Write and Seek move a
// cursor, and every Write is persisted atomically before it returns.
//
// Write handles are exclusive and read handles are shared for as long as the
// handle is open, so a read-modify-write done through one write handle is
// never interleaved with another writer of the same object.
package objstore

import (
	"errors"
	"fmt"
	"io"
)

// MaxIDSize is the longest object id accepted by a Store.
const MaxIDSize = 64

// Flag is a set of access rights requested for a handle.
type Flag uint32

const (
	FlagRead Flag = 1 << iota
	FlagWrite
)

func (f Flag) String() string {
	switch f {
	case 0:
		return "none"
	case FlagRead:
		return "read"
	case FlagWrite:
		return "write"
	case FlagRead | FlagWrite:
		return "read|write"
	default:
		return fmt.Sprintf("flag(%d)", uint32(f))
	}
}

func (f Flag) has(x Flag) bool {
	return f&x == x
}

var (
	ErrNotFound     = errors.New("objstore: object not found")
	ErrExists       = errors.New("objstore: object already exists")
	ErrAccessDenied = errors.New("objstore: access denied")
	ErrClosed       = errors.New("objstore: handle closed")
	ErrInvalidID    = errors.New("objstore: invalid object id")
	ErrInvalidSeek  = errors.New("objstore: invalid seek")
)

// Object is an open handle to a persistent object.
// A handle is not safe for concurrent use.
type Object interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Size returns the current length of the object data.
	Size() int64
}

// Store opens and creates persistent objects.
type Store interface {
	// Open returns a handle to an existing object.
	// Returns ErrNotFound if the object does not exist.
	Open(id []byte, flags Flag) (Object, error)

	// Create makes a new object holding initial and returns a handle to it.
	// Returns ErrExists if the object already exists.
	Create(id []byte, flags Flag, initial []byte) (Object, error)

	// Path returns the storage location for display purposes.
	Path() string
}

// validateID checks that an object id is usable as a storage key.
func validateID(id []byte) error {
	if len(id) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrInvalidID, len(id), MaxIDSize)
	}
	return nil
}
