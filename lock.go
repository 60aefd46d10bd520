package oemlock

import (
	"context"
	"log/slog"

	"github.com/kardianos/oemlock/events"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/kardianos/oemlock/session"
)

// LockName is returned by Lock.Name.
const LockName = "Trusted OemLock HAL 1.0"

// LockOptions configures a Lock.
type LockOptions struct {
	// Client is the session to the trusted application. It is connected
	// by the caller; Lock never connects or reconnects it.
	Client *session.Client

	// Events, if not nil, receives a FlagChanged event after every
	// successful set.
	Events events.Publisher

	Logger *slog.Logger
}

// Lock is the Service backed by the trusted application.
type Lock struct {
	client *session.Client
	events events.Publisher
	log    *slog.Logger
}

var _ Service = (*Lock)(nil)

// NewLock returns a Lock using opt.Client.
func NewLock(opt LockOptions) *Lock {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Lock{
		client: opt.Client,
		events: opt.Events,
		log:    log,
	}
}

func (l *Lock) connected() bool {
	return l.client != nil && l.client.Connected()
}

// Name returns LockName, or StatusFailed if the session is not connected.
func (l *Lock) Name(ctx context.Context) (Status, string) {
	if !l.connected() {
		return StatusFailed, ""
	}
	return StatusOK, LockName
}

func (l *Lock) get(ctx context.Context, f lockdef.Field) (Status, bool) {
	if !l.connected() {
		return StatusFailed, false
	}
	var v bool
	if err := l.client.Invoke(ctx, lockdef.CommandFor(f, false), &v); err != nil {
		l.log.ErrorContext(ctx, "read flag", "field", f, "err", err)
		return StatusFailed, false
	}
	return StatusOK, v
}

func (l *Lock) set(ctx context.Context, f lockdef.Field, allowed bool) Status {
	if !l.connected() {
		return StatusFailed
	}
	v := allowed
	if err := l.client.Invoke(ctx, lockdef.CommandFor(f, true), &v); err != nil {
		l.log.ErrorContext(ctx, "write flag", "field", f, "allowed", allowed, "err", err)
		return StatusFailed
	}
	events.Notify(ctx, l.events, l.log, "trusted", f, allowed)
	return StatusOK
}

// IsCarrierAllowed reads the carrier flag from the trusted application.
func (l *Lock) IsCarrierAllowed(ctx context.Context) (Status, bool) {
	return l.get(ctx, lockdef.FieldCarrier)
}

// SetCarrierAllowed stores the carrier flag. The signature is not verified.
func (l *Lock) SetCarrierAllowed(ctx context.Context, allowed bool, signature []byte) SecureStatus {
	if !l.connected() {
		return SecureFailed
	}
	if len(signature) > 0 {
		l.log.WarnContext(ctx, "signature provided but is not being used", "size", len(signature))
	}
	if l.set(ctx, lockdef.FieldCarrier, allowed) != StatusOK {
		return SecureFailed
	}
	return SecureOK
}

// IsDeviceAllowed reads the device flag from the trusted application.
func (l *Lock) IsDeviceAllowed(ctx context.Context) (Status, bool) {
	return l.get(ctx, lockdef.FieldDevice)
}

// SetDeviceAllowed stores the device flag.
func (l *Lock) SetDeviceAllowed(ctx context.Context, allowed bool) Status {
	return l.set(ctx, lockdef.FieldDevice, allowed)
}
