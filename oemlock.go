// Package oemlock is the authorization facade deciding whether the
// bootloader of a device may be unlocked.
//
// Two flags gate unlocking: one controlled by the carrier and one by the
// device owner. A Service reports and updates both. Lock keeps the flags in
// a trusted application reached through a session.Client; Memory keeps
// them in process memory for bring-up. The backend is chosen once, when
// the Service is built.
package oemlock

import "context"

// Status is the result of a facade operation.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "failed"
}

// SecureStatus is the result of an operation that may carry a signature.
type SecureStatus int

const (
	SecureOK SecureStatus = iota
	SecureFailed
)

func (s SecureStatus) String() string {
	if s == SecureOK {
		return "ok"
	}
	return "failed"
}

// Service is the OEM lock facade. On failure the returned bool is false.
type Service interface {
	// Name returns an identifier of the backend.
	Name(ctx context.Context) (Status, string)

	IsCarrierAllowed(ctx context.Context) (Status, bool)

	// SetCarrierAllowed updates the carrier flag. The signature is
	// accepted but not verified.
	SetCarrierAllowed(ctx context.Context, allowed bool, signature []byte) SecureStatus

	IsDeviceAllowed(ctx context.Context) (Status, bool)
	SetDeviceAllowed(ctx context.Context, allowed bool) Status
}
