// Package lockdef holds the definitions shared by both sides of the
// OEM lock command protocol: the trusted app identity, command ids,
// parameter shapes and the result codes that may cross the boundary.
package lockdef

import (
	"fmt"

	"github.com/google/uuid"
)

// AppID identifies the OEM lock trusted application.
var AppID = uuid.MustParse("be1e65f4-40ca-11e9-b210-d663bd873d93")

// Field names one of the two authorization flags.
type Field uint8

const (
	FieldCarrier Field = iota
	FieldDevice
)

func (f Field) String() string {
	switch f {
	case FieldCarrier:
		return "carrier"
	case FieldDevice:
		return "device"
	default:
		return fmt.Sprintf("field(%d)", uint8(f))
	}
}

// ParseField parses "carrier" or "device".
func ParseField(s string) (Field, error) {
	switch s {
	case "carrier":
		return FieldCarrier, nil
	case "device":
		return FieldDevice, nil
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// Command is a command id understood by the trusted application.
type Command uint32

const (
	CmdGetCarrierAllowed Command = iota
	CmdSetCarrierAllowed
	CmdGetDeviceAllowed
	CmdSetDeviceAllowed

	numCommands
)

func (c Command) String() string {
	switch c {
	case CmdGetCarrierAllowed:
		return "get-carrier-allowed"
	case CmdSetCarrierAllowed:
		return "set-carrier-allowed"
	case CmdGetDeviceAllowed:
		return "get-device-allowed"
	case CmdSetDeviceAllowed:
		return "set-device-allowed"
	default:
		return fmt.Sprintf("command(%d)", uint32(c))
	}
}

// ParseCommand validates a raw command id.
func ParseCommand(id uint32) (Command, error) {
	if id >= uint32(numCommands) {
		return 0, fmt.Errorf("%w: unknown command %d", ErrBadParameters, id)
	}
	return Command(id), nil
}

// Field returns the flag the command reads or writes.
func (c Command) Field() Field {
	if c == CmdGetDeviceAllowed || c == CmdSetDeviceAllowed {
		return FieldDevice
	}
	return FieldCarrier
}

// IsSet reports whether the command writes its field.
func (c Command) IsSet() bool {
	return c == CmdSetCarrierAllowed || c == CmdSetDeviceAllowed
}

// CommandFor returns the get or set command for field.
func CommandFor(f Field, set bool) Command {
	switch {
	case f == FieldDevice && set:
		return CmdSetDeviceAllowed
	case f == FieldDevice:
		return CmdGetDeviceAllowed
	case set:
		return CmdSetCarrierAllowed
	default:
		return CmdGetCarrierAllowed
	}
}

// Handler executes commands. Each command has its own method, so adding a
// command will not compile until every handler implements it.
type Handler interface {
	GetCarrierAllowed(value *uint32) error
	SetCarrierAllowed(value uint32) error
	GetDeviceAllowed(value *uint32) error
	SetDeviceAllowed(value uint32) error
}

// Run dispatches c to h. value carries the input of a set and receives
// the output of a get.
func (c Command) Run(h Handler, value *uint32) error {
	switch c {
	case CmdGetCarrierAllowed:
		return h.GetCarrierAllowed(value)
	case CmdSetCarrierAllowed:
		return h.SetCarrierAllowed(*value)
	case CmdGetDeviceAllowed:
		return h.GetDeviceAllowed(value)
	case CmdSetDeviceAllowed:
		return h.SetDeviceAllowed(*value)
	}
	return fmt.Errorf("%w: unknown command %d", ErrBadParameters, uint32(c))
}
