package objstore

import (
	"io"
	"sync"
)

// object is the handle shared by all backends. The data is held in memory
// and persist is called with the full content after every write.
type object struct {
	data    []byte
	pos     int64
	flags   Flag
	closed  bool
	persist func(data []byte) error
	release func()
}

func newObject(data []byte, flags Flag, persist func([]byte) error, release func()) *object {
	return &object{
		data:    data,
		flags:   flags,
		persist: persist,
		release: release,
	}
}

func (o *object) Read(p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}
	if !o.flags.has(FlagRead) {
		return 0, ErrAccessDenied
	}
	if o.pos >= int64(len(o.data)) {
		return 0, io.EOF
	}
	n := copy(p, o.data[o.pos:])
	o.pos += int64(n)
	return n, nil
}

func (o *object) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}
	if !o.flags.has(FlagWrite) {
		return 0, ErrAccessDenied
	}
	end := o.pos + int64(len(p))
	next := make([]byte, max(end, int64(len(o.data))))
	copy(next, o.data)
	copy(next[o.pos:], p)

	if err := o.persist(next); err != nil {
		return 0, err
	}
	o.data = next
	o.pos = end
	return len(p), nil
}

func (o *object) Seek(offset int64, whence int) (int64, error) {
	if o.closed {
		return 0, ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = o.pos + offset
	case io.SeekEnd:
		abs = int64(len(o.data)) + offset
	default:
		return 0, ErrInvalidSeek
	}
	if abs < 0 {
		return 0, ErrInvalidSeek
	}
	o.pos = abs
	return abs, nil
}

func (o *object) Size() int64 {
	return int64(len(o.data))
}

func (o *object) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if o.release != nil {
		o.release()
	}
	return nil
}

// lockTable hands out per-object reader/writer locks within a process.
type lockTable struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	rw   sync.RWMutex
	refs int
}

// acquire blocks until the lock for key is held and returns its release func.
func (t *lockTable) acquire(key string, write bool) func() {
	t.mu.Lock()
	if t.m == nil {
		t.m = make(map[string]*lockEntry)
	}
	e := t.m[key]
	if e == nil {
		e = &lockEntry{}
		t.m[key] = e
	}
	e.refs++
	t.mu.Unlock()

	if write {
		e.rw.Lock()
	} else {
		e.rw.RLock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if write {
				e.rw.Unlock()
			} else {
				e.rw.RUnlock()
			}
			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.m, key)
			}
			t.mu.Unlock()
		})
	}
}
