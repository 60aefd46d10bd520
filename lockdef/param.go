package lockdef

import "fmt"

// ParamType describes how one invocation parameter slot is used.
type ParamType uint8

const (
	ParamNone ParamType = iota
	ParamValueInput
	ParamValueOutput
	ParamValueInOut
)

func (p ParamType) String() string {
	switch p {
	case ParamNone:
		return "none"
	case ParamValueInput:
		return "value-input"
	case ParamValueOutput:
		return "value-output"
	case ParamValueInOut:
		return "value-inout"
	default:
		return fmt.Sprintf("param(%d)", uint8(p))
	}
}

// ParamTypes is the type of each of the four parameter slots.
type ParamTypes [4]ParamType

// Value is a value parameter.
type Value struct {
	A uint32 `cbor:"1,keyasint"`
	B uint32 `cbor:"2,keyasint"`
}

// Params holds the four parameter slots of a call.
type Params [4]Value

var (
	// NoParams is the shape of a session open.
	NoParams = ParamTypes{}

	// InvokeParams is the shape of every command invocation: one in/out
	// value in the first slot.
	InvokeParams = ParamTypes{ParamValueInOut, ParamNone, ParamNone, ParamNone}
)

// Check returns ErrBadParameters unless got equals want.
func (want ParamTypes) Check(got ParamTypes) error {
	if got != want {
		return fmt.Errorf("%w: parameter types %v, want %v", ErrBadParameters, got, want)
	}
	return nil
}

// Bool converts a boolean to its boundary value.
func Bool(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
