package lockdef

import (
	"errors"
	"fmt"
)

var (
	ErrBadParameters    = errors.New("bad parameters")
	ErrItemNotFound     = errors.New("item not found")
	ErrCommandFailed    = errors.New("command failed")
	ErrCommunication    = errors.New("communication failure")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
)

// Result is the status code returned across the boundary. Only these codes
// cross; the cause of a failure stays on the side that saw it.
type Result uint32

const (
	ResultOK Result = iota
	ResultBadParameters
	ResultItemNotFound
	ResultGeneric
	ResultCommunication
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultBadParameters:
		return "bad-parameters"
	case ResultItemNotFound:
		return "item-not-found"
	case ResultGeneric:
		return "generic"
	case ResultCommunication:
		return "communication"
	default:
		return fmt.Sprintf("result(%d)", uint32(r))
	}
}

// ResultError is the error form of a non-OK Result.
type ResultError struct {
	Result Result
}

func (e *ResultError) Error() string {
	return "result " + e.Result.String()
}

// Unwrap maps the code to its sentinel so errors.Is works on both sides.
func (e *ResultError) Unwrap() error {
	switch e.Result {
	case ResultBadParameters:
		return ErrBadParameters
	case ResultItemNotFound:
		return ErrItemNotFound
	case ResultCommunication:
		return ErrCommunication
	default:
		return ErrCommandFailed
	}
}

// Err returns nil for ResultOK and a *ResultError otherwise.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return &ResultError{Result: r}
}

// ResultOf maps an error to the code sent across the boundary.
func ResultOf(err error) Result {
	var re *ResultError
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &re):
		return re.Result
	case errors.Is(err, ErrBadParameters):
		return ResultBadParameters
	case errors.Is(err, ErrItemNotFound):
		return ResultItemNotFound
	case errors.Is(err, ErrCommunication):
		return ResultCommunication
	default:
		return ResultGeneric
	}
}
