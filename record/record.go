// Package record encodes and verifies the persisted OEM unlock authorization record.
//
// The record is 24 bytes:
//
//	version(1) | carrier(1) | device(1) | padding(1) | SHA-1 digest(20)
//
// The digest covers exactly the four data bytes. It is checked on every
// decode and recomputed on every encode.
package record

import (
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
)

// Version is the only record version accepted by Decode.
const Version = 0x01

// Layout of the record.
const (
	DataSize   = 4
	DigestSize = sha1.Size
	Size       = DataSize + DigestSize

	VersionOffset = 0
	CarrierOffset = 1
	DeviceOffset  = 2
	PaddingOffset = 3
)

var (
	// ErrBadVersion is returned when the record has the wrong size or an
	// unexpected version byte.
	ErrBadVersion = errors.New("record: bad version")

	// ErrIntegrityMismatch is returned when the stored digest does not match
	// the digest of the data bytes.
	ErrIntegrityMismatch = errors.New("record: integrity mismatch")
)

// Record holds the two flags of a verified record.
type Record struct {
	CarrierAllowed byte
	DeviceAllowed  byte
}

// Carrier reports whether unlock is allowed by the carrier.
func (r Record) Carrier() bool { return r.CarrierAllowed != 0 }

// Device reports whether unlock is allowed by the device.
func (r Record) Device() bool { return r.DeviceAllowed != 0 }

func (r Record) String() string {
	return fmt.Sprintf("carrier=%d device=%d", r.CarrierAllowed, r.DeviceAllowed)
}

// Digest returns the SHA-1 digest of the data bytes.
func Digest(data []byte) [DigestSize]byte {
	return sha1.Sum(data[:DataSize])
}

// Encode lays out a record and appends its digest. Padding is always zero.
func Encode(version, carrier, device byte) [Size]byte {
	var buf [Size]byte
	buf[VersionOffset] = version
	buf[CarrierOffset] = carrier
	buf[DeviceOffset] = device
	Seal(&buf)
	return buf
}

// Seal clears the padding byte and rewrites the digest of buf in place.
func Seal(buf *[Size]byte) {
	buf[PaddingOffset] = 0
	sum := Digest(buf[:DataSize])
	copy(buf[DataSize:], sum[:])
}

// Decode verifies b and returns the flags it carries.
//
// The digest is checked before the version so that any modification of the
// stored bytes surfaces as ErrIntegrityMismatch. A record whose digest is
// consistent but whose version is not Version fails with ErrBadVersion.
func Decode(b []byte) (Record, error) {
	if len(b) != Size {
		return Record{}, fmt.Errorf("%w: size %d, want %d", ErrBadVersion, len(b), Size)
	}
	sum := Digest(b[:DataSize])
	if subtle.ConstantTimeCompare(sum[:], b[DataSize:]) != 1 {
		return Record{}, ErrIntegrityMismatch
	}
	if b[VersionOffset] != Version {
		return Record{}, fmt.Errorf("%w: got %#02x", ErrBadVersion, b[VersionOffset])
	}
	return Record{
		CarrierAllowed: b[CarrierOffset],
		DeviceAllowed:  b[DeviceOffset],
	}, nil
}
