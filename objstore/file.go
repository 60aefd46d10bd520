package objstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps each object in its own file under a directory.
// Handles hold an advisory lock on a companion lock file, which also
// serializes writers in other processes sharing the directory.
type FileStore struct {
	sealing
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store rooted at dir. sealer may be nil.
func NewFileStore(dir string, sealer Sealer) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	dir = os.Expand(dir, os.Getenv)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create object store directory: %w", err)
	}
	return &FileStore{sealing: sealing{sealer: sealer}, dir: dir}, nil
}

func (s *FileStore) objectPath(id []byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(id)+".obj")
}

func (s *FileStore) lockPath(id []byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(id)+".lock")
}

// lock opens the lock file for id and locks it.
func (s *FileStore) lock(id []byte, exclusive bool) (func(), error) {
	f, err := os.OpenFile(s.lockPath(id), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock object: %w", err)
	}
	return func() {
		unlockFile(f)
		f.Close()
	}, nil
}

func (s *FileStore) Open(id []byte, flags Flag) (Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	unlock, err := s.lock(id, flags.has(FlagWrite))
	if err != nil {
		return nil, err
	}

	path := s.objectPath(id)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		unlock()
		return nil, ErrNotFound
	}
	if err != nil {
		unlock()
		return nil, fmt.Errorf("read object: %w", err)
	}
	data, err := s.unseal(raw)
	if err != nil {
		unlock()
		return nil, err
	}
	return newObject(data, flags, s.persister(path), unlock), nil
}

func (s *FileStore) Create(id []byte, flags Flag, initial []byte) (Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	unlock, err := s.lock(id, true)
	if err != nil {
		return nil, err
	}

	path := s.objectPath(id)
	if _, err := os.Stat(path); err == nil {
		unlock()
		return nil, ErrExists
	} else if !errors.Is(err, os.ErrNotExist) {
		unlock()
		return nil, fmt.Errorf("stat object: %w", err)
	}

	persist := s.persister(path)
	if err := persist(initial); err != nil {
		unlock()
		return nil, err
	}
	data := make([]byte, len(initial))
	copy(data, initial)
	return newObject(data, flags, persist, unlock), nil
}

func (s *FileStore) persister(path string) func([]byte) error {
	return func(data []byte) error {
		raw, err := s.seal(data)
		if err != nil {
			return fmt.Errorf("seal object: %w", err)
		}
		if err := atomicWriteFile(path, raw, 0600); err != nil {
			return fmt.Errorf("write object: %w", err)
		}
		return nil
	}
}

// Path returns the storage location for display purposes.
func (s *FileStore) Path() string {
	return s.dir
}

// atomicWriteFile writes data to a temp file and renames it to the target path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
