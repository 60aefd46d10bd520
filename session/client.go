// Package session keeps the caller's single session to the OEM lock
// trusted application and serializes the commands sent on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kardianos/oemlock/channel"
	"github.com/kardianos/oemlock/lifecycle"
	"github.com/kardianos/oemlock/lockdef"
)

// State is the connection state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var edges = []lifecycle.Edge[State]{
	{From: StateIdle, To: StateConnecting, Name: "connect"},
	{From: StateConnecting, To: StateConnected, Name: "session-opened"},
	{From: StateConnecting, To: StateFailed, Name: "connect-failed"},
	{From: StateConnected, To: StateClosed, Name: "disconnect"},
}

// Dialer opens the channel to the isolated environment.
type Dialer func(ctx context.Context) (channel.Channel, error)

// LocalDialer returns a Dialer that always uses ch.
func LocalDialer(ch channel.Channel) Dialer {
	return func(context.Context) (channel.Channel, error) {
		return ch, nil
	}
}

// Options configures a Client.
type Options struct {
	Dial Dialer

	// App is the trusted app to open. Defaults to lockdef.AppID.
	App uuid.UUID

	Logger *slog.Logger
}

// Client owns one session. Connect is attempted once; a failed client
// never reconnects.
//
// Commands on the same flag are serialized for their full round trip.
// Commands on different flags are independent.
type Client struct {
	dial Dialer
	app  uuid.UUID
	log  *slog.Logger

	state *lifecycle.Machine[State]

	connectMu sync.Mutex // Held for a connect attempt and by Disconnect.

	mu   sync.Mutex // Guards ch and sess.
	ch   channel.Channel
	sess channel.Session

	fieldMu [2]sync.Mutex // Indexed by lockdef.Field.
}

// New returns an idle client.
func New(opt Options) *Client {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	app := opt.App
	if app == uuid.Nil {
		app = lockdef.AppID
	}
	c := &Client{
		dial: opt.Dial,
		app:  app,
		log:  log,
	}
	c.state = lifecycle.New(StateIdle, edges, func(from, to State, name string) {
		log.Debug("session state", "from", from, "to", to, "event", name)
	})
	return c
}

// State returns the current state.
func (c *Client) State() State {
	return c.state.Current()
}

// Connected reports whether the session is open.
func (c *Client) Connected() bool {
	return c.state.In(StateConnected)
}

// Connect opens the channel and the session. It returns nil if the
// client is already connected and lockdef.ErrConnectionFailed if any
// attempt, this one or an earlier one, failed. Concurrent calls wait for
// the attempt in progress and report its outcome.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	from, err := c.state.MoveFrom(StateConnecting)
	if err != nil {
		if from == StateConnected {
			return nil
		}
		return fmt.Errorf("%w: client is %s", lockdef.ErrConnectionFailed, from)
	}

	if err := c.open(ctx); err != nil {
		c.log.Error("connect to trusted app", "app", c.app.String(), "err", err)
		c.state.Move(StateFailed)
		return fmt.Errorf("%w: %w", lockdef.ErrConnectionFailed, err)
	}
	return c.state.Move(StateConnected)
}

func (c *Client) open(ctx context.Context) error {
	if c.dial == nil {
		return errors.New("no dialer")
	}
	ch, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	sess, err := ch.OpenSession(ctx, c.app, lockdef.NoParams, &lockdef.Params{})
	if err != nil {
		ch.Close()
		return fmt.Errorf("open session: %w", err)
	}

	c.mu.Lock()
	c.ch, c.sess = ch, sess
	c.mu.Unlock()
	return nil
}

// Invoke sends cmd with *value as its input. On success *value holds the
// command output. On failure the content of *value is unspecified.
func (c *Client) Invoke(ctx context.Context, cmd lockdef.Command, value *bool) error {
	m := &c.fieldMu[cmd.Field()]
	m.Lock()
	defer m.Unlock()

	if !c.Connected() {
		return lockdef.ErrNotConnected
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	params := lockdef.Params{{A: lockdef.Bool(*value)}}
	if err := sess.Invoke(ctx, uint32(cmd), lockdef.InvokeParams, &params); err != nil {
		c.log.Warn("invoke", "command", cmd, "result", lockdef.ResultOf(err), "err", err)
		if errors.Is(err, lockdef.ErrCommandFailed) {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		return fmt.Errorf("%w: %s: %w", lockdef.ErrCommandFailed, cmd, err)
	}
	*value = params[0].A != 0
	return nil
}

// Disconnect waits for a connect attempt and commands in flight, then
// closes the session and the channel. It is a no-op unless the client is
// connected.
func (c *Client) Disconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	for i := range c.fieldMu {
		c.fieldMu[i].Lock()
		defer c.fieldMu[i].Unlock()
	}

	if err := c.state.Move(StateClosed); err != nil {
		return nil
	}

	c.mu.Lock()
	sess, ch := c.sess, c.ch
	c.sess, c.ch = nil, nil
	c.mu.Unlock()

	return errors.Join(sess.Close(), ch.Close())
}
