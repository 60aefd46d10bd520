package ta

import (
	"errors"
	"fmt"
	"io"

	"github.com/kardianos/oemlock/objstore"
	"github.com/kardianos/oemlock/record"
)

// ObjectID is the id of the persistent object holding the record.
var ObjectID = []byte{0x96, 0xdb, 0x05, 0x9e}

var (
	// ErrShortRead is returned when the object holds fewer bytes than expected.
	ErrShortRead = errors.New("ta: short read")

	// ErrStore is returned when the object store fails.
	ErrStore = errors.New("ta: object store failure")
)

// Change is an optional new value for one flag.
type Change struct {
	set   bool
	value byte
}

// Keep leaves the stored value as it is.
func Keep() Change { return Change{} }

// SetTo replaces the stored value with v.
func SetTo(v byte) Change { return Change{set: true, value: v} }

// IsSet reports whether the change replaces the stored value.
func (c Change) IsSet() bool { return c.set }

func (c Change) apply(b *byte) {
	if c.set {
		*b = c.value
	}
}

// Update describes a partial record write.
type Update struct {
	Carrier Change
	Device  Change
}

var defaults = Update{Carrier: SetTo(1), Device: SetTo(1)}

// Storage reads and writes the record object in a Store.
type Storage struct {
	store objstore.Store
}

// NewStorage returns a Storage backed by store.
func NewStorage(store objstore.Store) *Storage {
	return &Storage{store: store}
}

// OpenOrCreate ensures the record object exists. An absent object is
// created and filled with the default record. It is a no-op otherwise.
func (s *Storage) OpenOrCreate() error {
	obj, err := s.store.Open(ObjectID, objstore.FlagRead)
	if err == nil {
		return obj.Close()
	}
	if !errors.Is(err, objstore.ErrNotFound) {
		return fmt.Errorf("%w: open: %w", ErrStore, err)
	}

	obj, err = s.store.Create(ObjectID, objstore.FlagRead|objstore.FlagWrite, nil)
	switch {
	case errors.Is(err, objstore.ErrExists):
		return nil
	case err != nil:
		return fmt.Errorf("%w: create: %w", ErrStore, err)
	}
	defer obj.Close()
	return writeRecord(obj, defaults)
}

// Read returns the verified record.
func (s *Storage) Read() (record.Record, error) {
	obj, err := s.store.Open(ObjectID, objstore.FlagRead)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: open: %w", ErrStore, err)
	}
	defer obj.Close()

	buf, err := readRecord(obj)
	if err != nil {
		return record.Record{}, err
	}
	return record.Decode(buf[:])
}

// Write applies u to the stored record.
func (s *Storage) Write(u Update) error {
	obj, err := s.store.Open(ObjectID, objstore.FlagRead|objstore.FlagWrite)
	if err != nil {
		return fmt.Errorf("%w: open: %w", ErrStore, err)
	}
	defer obj.Close()
	return writeRecord(obj, u)
}

func readRecord(obj objstore.Object) ([record.Size]byte, error) {
	var buf [record.Size]byte
	if _, err := obj.Seek(0, io.SeekStart); err != nil {
		return buf, fmt.Errorf("%w: seek: %w", ErrStore, err)
	}
	_, err := io.ReadFull(obj, buf[:])
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return buf, ErrShortRead
	case err != nil:
		return buf, fmt.Errorf("%w: read: %w", ErrStore, err)
	}
	return buf, nil
}

// writeRecord rewrites the whole record. The existing data bytes seed the
// new record so that absent fields keep their value; an empty object is
// treated as having no prior state.
func writeRecord(obj objstore.Object, u Update) error {
	var buf [record.Size]byte
	if _, err := obj.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", ErrStore, err)
	}
	_, err := io.ReadFull(obj, buf[:record.DataSize])
	switch {
	case err == nil, err == io.EOF:
	case err == io.ErrUnexpectedEOF:
		return ErrShortRead
	default:
		return fmt.Errorf("%w: read: %w", ErrStore, err)
	}

	buf[record.VersionOffset] = record.Version
	u.Carrier.apply(&buf[record.CarrierOffset])
	u.Device.apply(&buf[record.DeviceOffset])
	record.Seal(&buf)

	if _, err := obj.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", ErrStore, err)
	}
	if _, err := obj.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: write: %w", ErrStore, err)
	}
	return nil
}
