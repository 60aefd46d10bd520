package channel

import (
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/kardianos/oemlock/lockdef"
)

// ALPN is the application protocol negotiated on every connection.
const ALPN = "oemlock"

// DefaultMaxMsgSize bounds a single decoded request.
const DefaultMaxMsgSize = 4 << 10

// ErrMessageTooLarge is returned when a message exceeds the size limit.
var ErrMessageTooLarge = errors.New("channel: message too large")

// MessageID correlates a response with its request.
type MessageID uint64

// Op is the operation carried by a Request.
type Op uint8

const (
	OpOpenSession  Op = 1
	OpInvoke       Op = 2
	OpCloseSession Op = 3
)

func (o Op) String() string {
	switch o {
	case OpOpenSession:
		return "open-session"
	case OpInvoke:
		return "invoke"
	case OpCloseSession:
		return "close-session"
	default:
		return "unknown"
	}
}

// Request is sent from the caller to the server.
type Request struct {
	ID      MessageID          `cbor:"1,keyasint"`
	Op      Op                 `cbor:"2,keyasint"`
	App     uuid.UUID          `cbor:"3,keyasint"`
	Session uint32             `cbor:"4,keyasint,omitempty"`
	Command uint32             `cbor:"5,keyasint,omitempty"`
	Types   lockdef.ParamTypes `cbor:"6,keyasint"`
	Params  lockdef.Params     `cbor:"7,keyasint"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID      MessageID      `cbor:"1,keyasint"`
	Result  lockdef.Result `cbor:"2,keyasint"`
	Session uint32         `cbor:"3,keyasint,omitempty"`
	Params  lockdef.Params `cbor:"4,keyasint"`
}

// limitedReader limits the bytes read for each message. Reset must be
// called before decoding the next message.
type limitedReader struct {
	mu        sync.Mutex
	r         io.Reader
	limit     int64
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, limit: limit, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	if l.remaining <= 0 {
		l.mu.Unlock()
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	l.mu.Unlock()

	n, err := l.r.Read(p)

	l.mu.Lock()
	l.remaining -= int64(n)
	l.mu.Unlock()
	return n, err
}

func (l *limitedReader) Reset() {
	l.mu.Lock()
	l.remaining = l.limit
	l.mu.Unlock()
}
