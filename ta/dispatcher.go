// Package ta is the OEM lock trusted application. It owns the persistent
// authorization record and executes the get and set commands on it.
package ta

import (
	"fmt"
	"log/slog"

	"github.com/kardianos/oemlock/channel"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/kardianos/oemlock/objstore"
)

// Dispatcher handles the entry points of the trusted application.
// Callers must not invoke entry points concurrently; the channel Registry
// serializes them.
type Dispatcher struct {
	storage *Storage
	log     *slog.Logger
}

var _ channel.App = (*Dispatcher)(nil)

// New creates a dispatcher and ensures the record object exists.
func New(store objstore.Store, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		storage: NewStorage(store),
		log:     logger.With("app", lockdef.AppID.String()),
	}
	if err := d.storage.OpenOrCreate(); err != nil {
		d.log.Error("open or create record", "err", err)
		return nil, fmt.Errorf("ta: create: %w", err)
	}
	return d, nil
}

// Factory returns a channel.Factory creating dispatchers on store.
func Factory(store objstore.Store, logger *slog.Logger) channel.Factory {
	return func() (channel.App, error) {
		return New(store, logger)
	}
}

// OpenSession accepts a session carrying no parameters.
func (d *Dispatcher) OpenSession(types lockdef.ParamTypes, _ *lockdef.Params) error {
	if err := lockdef.NoParams.Check(types); err != nil {
		d.log.Warn("open session rejected", "err", err)
		return err
	}
	d.log.Debug("session opened")
	return nil
}

// CloseSession releases nothing; the dispatcher keeps no session state.
func (d *Dispatcher) CloseSession() {
	d.log.Debug("session closed")
}

// Invoke runs a command. The first parameter is the in/out value. Failures
// of the store or the record are logged here and reported to the caller
// only as lockdef.ErrCommandFailed.
func (d *Dispatcher) Invoke(id uint32, types lockdef.ParamTypes, params *lockdef.Params) error {
	cmd, err := lockdef.ParseCommand(id)
	if err != nil {
		d.log.Warn("invoke rejected", "err", err)
		return err
	}
	if err := lockdef.InvokeParams.Check(types); err != nil {
		d.log.Warn("invoke rejected", "command", cmd, "err", err)
		return err
	}

	value := params[0].A
	if err := cmd.Run(executor{d.storage}, &value); err != nil {
		d.log.Error("command failed", "command", cmd, "err", err)
		return lockdef.ErrCommandFailed
	}
	params[0].A = value
	return nil
}

// executor runs commands against the record.
type executor struct {
	storage *Storage
}

var _ lockdef.Handler = executor{}

func (e executor) GetCarrierAllowed(value *uint32) error {
	r, err := e.storage.Read()
	if err != nil {
		return err
	}
	*value = uint32(r.CarrierAllowed)
	return nil
}

func (e executor) SetCarrierAllowed(value uint32) error {
	return e.storage.Write(Update{Carrier: SetTo(byte(value)), Device: Keep()})
}

func (e executor) GetDeviceAllowed(value *uint32) error {
	r, err := e.storage.Read()
	if err != nil {
		return err
	}
	*value = uint32(r.DeviceAllowed)
	return nil
}

func (e executor) SetDeviceAllowed(value uint32) error {
	return e.storage.Write(Update{Carrier: Keep(), Device: SetTo(byte(value))})
}
