package objstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketObjects = []byte("objects")

// BoltStore keeps objects as values in a bbolt database.
type BoltStore struct {
	sealing
	locks lockTable
	db    *bbolt.DB
	path  string
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the database at path. sealer may be nil.
func NewBoltStore(path string, sealer Sealer) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	path = os.Expand(path, os.Getenv)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{
		sealing: sealing{sealer: sealer},
		db:      db,
		path:    path,
	}, nil
}

// get returns a copy of the stored value. Empty values are valid objects,
// so presence is reported separately.
func (s *BoltStore) get(id []byte) (raw []byte, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		k, v := tx.Bucket(bucketObjects).Cursor().Seek(id)
		if !bytes.Equal(k, id) {
			return nil
		}
		found = true
		raw = make([]byte, len(v))
		copy(raw, v)
		return nil
	})
	return raw, found, err
}

func (s *BoltStore) Open(id []byte, flags Flag) (Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	release := s.locks.acquire(string(id), flags.has(FlagWrite))

	raw, found, err := s.get(id)
	if err != nil {
		release()
		return nil, fmt.Errorf("read object: %w", err)
	}
	if !found {
		release()
		return nil, ErrNotFound
	}
	data, err := s.unseal(raw)
	if err != nil {
		release()
		return nil, err
	}
	return newObject(data, flags, s.persister(id), release), nil
}

func (s *BoltStore) Create(id []byte, flags Flag, initial []byte) (Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	release := s.locks.acquire(string(id), true)

	raw, err := s.seal(initial)
	if err != nil {
		release()
		return nil, fmt.Errorf("seal object: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if k, _ := b.Cursor().Seek(id); bytes.Equal(k, id) {
			return ErrExists
		}
		return b.Put(id, raw)
	})
	if err != nil {
		release()
		return nil, err
	}

	data := make([]byte, len(initial))
	copy(data, initial)
	return newObject(data, flags, s.persister(id), release), nil
}

func (s *BoltStore) persister(id []byte) func([]byte) error {
	key := make([]byte, len(id))
	copy(key, id)
	return func(data []byte) error {
		raw, err := s.seal(data)
		if err != nil {
			return fmt.Errorf("seal object: %w", err)
		}
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketObjects).Put(key, raw)
		})
	}
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
