package objstore

import "sync"

// MemStore keeps objects in process memory. Contents are lost on exit.
type MemStore struct {
	sealing
	locks lockTable

	mu      sync.Mutex
	objects map[string][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty memory store. sealer may be nil.
func NewMemStore(sealer Sealer) *MemStore {
	return &MemStore{
		sealing: sealing{sealer: sealer},
		objects: make(map[string][]byte),
	}
}

func (s *MemStore) Open(id []byte, flags Flag) (Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	key := string(id)
	release := s.locks.acquire(key, flags.has(FlagWrite))

	s.mu.Lock()
	raw, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		release()
		return nil, ErrNotFound
	}
	data, err := s.unseal(raw)
	if err != nil {
		release()
		return nil, err
	}
	return newObject(data, flags, s.persister(key), release), nil
}

func (s *MemStore) Create(id []byte, flags Flag, initial []byte) (Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	key := string(id)
	release := s.locks.acquire(key, true)

	raw, err := s.seal(initial)
	if err != nil {
		release()
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.objects[key]; ok {
		s.mu.Unlock()
		release()
		return nil, ErrExists
	}
	s.objects[key] = raw
	s.mu.Unlock()

	data := make([]byte, len(initial))
	copy(data, initial)
	return newObject(data, flags, s.persister(key), release), nil
}

func (s *MemStore) persister(key string) func([]byte) error {
	return func(data []byte) error {
		raw, err := s.seal(data)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.objects[key] = raw
		s.mu.Unlock()
		return nil
	}
}

// Raw returns the stored, possibly sealed, bytes of an object.
func (s *MemStore) Raw(id []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[string(id)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true
}

// SetRaw replaces the stored bytes of an object without sealing them.
// It models out-of-band modification of the backing storage.
func (s *MemStore) SetRaw(id []byte, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, len(raw))
	copy(b, raw)
	s.objects[string(id)] = b
}

func (s *MemStore) Path() string {
	return "memory"
}
