package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/quic-go/quic-go"
)

// ClientOpt configures a Client.
type ClientOpt struct {
	// ServerAddr is the server address to connect to.
	ServerAddr string

	// ServerFP is the fingerprint the server certificate must have.
	ServerFP FP

	// Identity is the client certificate.
	Identity tls.Certificate

	// KeepalivePeriod sets the QUIC keepalive interval.
	KeepalivePeriod time.Duration
}

// Client is a Channel to a remote Server.
type Client struct {
	quicConn *quic.Conn
	stream   *quic.Stream
	enc      *cbor.Encoder
	dec      *cbor.Decoder

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[MessageID]chan *Response
	nextID    atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

var _ Channel = (*Client)(nil)

// Dial connects to a server and opens the request stream.
func Dial(ctx context.Context, opt ClientOpt) (*Client, error) {
	if opt.ServerFP.IsZero() {
		return nil, errors.New("channel: server fingerprint is required")
	}
	if len(opt.Identity.Certificate) == 0 {
		return nil, errors.New("channel: client identity is required")
	}

	keepalive := opt.KeepalivePeriod
	if keepalive <= 0 {
		keepalive = defaultKeepalivePeriod
	}
	quicConfig := &quic.Config{
		KeepAlivePeriod: keepalive,
	}

	quicConn, err := quic.DialAddr(ctx, opt.ServerAddr, clientTLSConfig(opt.Identity, opt.ServerFP), quicConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", lockdef.ErrCommunication, err)
	}
	stream, err := quicConn.OpenStreamSync(ctx)
	if err != nil {
		quicConn.CloseWithError(1, "stream error")
		return nil, fmt.Errorf("%w: %w", lockdef.ErrCommunication, err)
	}

	c := &Client{
		quicConn: quicConn,
		stream:   stream,
		enc:      cbor.NewEncoder(stream),
		dec:      cbor.NewDecoder(stream),
		pending:  make(map[MessageID]chan *Response),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection. The server closes any open sessions.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.quicConn.CloseWithError(0, "client closing")
	})
	return err
}

func (c *Client) OpenSession(ctx context.Context, app uuid.UUID, types lockdef.ParamTypes, params *lockdef.Params) (Session, error) {
	resp, err := c.request(ctx, &Request{
		Op:     OpOpenSession,
		App:    app,
		Types:  types,
		Params: *params,
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Result.Err(); err != nil {
		return nil, err
	}
	return &remoteSession{c: c, id: resp.Session}, nil
}

// request sends req and waits for its response.
func (c *Client) request(ctx context.Context, req *Request) (*Response, error) {
	req.ID = MessageID(c.nextID.Add(1))

	respChan := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.sendMu.Lock()
	err := c.enc.Encode(req)
	c.sendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", lockdef.ErrCommunication, err)
	}

	select {
	case r := <-respChan:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, lockdef.ErrCommunication
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var resp Response
		if err := c.dec.Decode(&resp); err != nil {
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- &resp:
		default:
		}
	}
}

type remoteSession struct {
	c  *Client
	id uint32
}

func (s *remoteSession) Invoke(ctx context.Context, cmd uint32, types lockdef.ParamTypes, params *lockdef.Params) error {
	resp, err := s.c.request(ctx, &Request{
		Op:      OpInvoke,
		Session: s.id,
		Command: cmd,
		Types:   types,
		Params:  *params,
	})
	if err != nil {
		return err
	}
	if err := resp.Result.Err(); err != nil {
		return err
	}
	*params = resp.Params
	return nil
}

func (s *remoteSession) Close() error {
	_, err := s.c.request(context.Background(), &Request{
		Op:      OpCloseSession,
		Session: s.id,
	})
	return err
}
