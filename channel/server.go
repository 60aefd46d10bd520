package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/quic-go/quic-go"
)

// defaultKeepalivePeriod for the quic protocol.
const defaultKeepalivePeriod = 45 * time.Second

// ServerOpt configures a Server.
type ServerOpt struct {
	// Registry holds the apps served to callers.
	Registry *Registry

	// Identity is the server certificate.
	Identity tls.Certificate

	// AllowedClients, if not empty, is the set of client certificate
	// fingerprints permitted to connect.
	AllowedClients []FP

	// MaxMsgSize bounds a single request. Defaults to DefaultMaxMsgSize.
	MaxMsgSize int64

	// KeepalivePeriod sets the QUIC keepalive interval.
	KeepalivePeriod time.Duration

	Logger *slog.Logger
}

// Server exposes a Registry over QUIC. Each connection carries one stream
// and any number of sessions; sessions still open when the connection ends
// are closed.
type Server struct {
	reg        *Registry
	tlsCfg     *tls.Config
	keepalive  time.Duration
	maxMsgSize int64
	log        *slog.Logger

	wg sync.WaitGroup
}

// NewServer creates a new Server.
func NewServer(opt ServerOpt) (*Server, error) {
	if opt.Registry == nil {
		return nil, errors.New("channel: registry is required")
	}
	if len(opt.Identity.Certificate) == 0 {
		return nil, errors.New("channel: server identity is required")
	}

	allowed := make(map[FP]bool, len(opt.AllowedClients))
	for _, fp := range opt.AllowedClients {
		allowed[fp] = true
	}

	keepalive := opt.KeepalivePeriod
	if keepalive <= 0 {
		keepalive = defaultKeepalivePeriod
	}
	maxMsg := opt.MaxMsgSize
	if maxMsg <= 0 {
		maxMsg = DefaultMaxMsgSize
	}
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		reg:        opt.Registry,
		tlsCfg:     serverTLSConfig(opt.Identity, allowed),
		keepalive:  keepalive,
		maxMsgSize: maxMsg,
		log:        log,
	}, nil
}

// Serve accepts connections on conn until ctx is done.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	quicConfig := &quic.Config{
		MaxIncomingStreams: 1,
		KeepAlivePeriod:    s.keepalive,
	}

	listener, err := quic.Listen(conn, s.tlsCfg, quicConfig)
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "serving", "addr", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	defer s.wg.Wait()
	for {
		quicConn, err := listener.Accept(ctx)
		if err != nil {
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, quicConn)
		}()
	}
}

// serverConn is one connected caller.
type serverConn struct {
	fp       FP
	quicConn *quic.Conn
	enc      *cbor.Encoder
	dec      *cbor.Decoder
	limitedR *limitedReader

	sessions map[uint32]struct{}
}

func (s *Server) handleConnection(ctx context.Context, quicConn *quic.Conn) {
	certs := quicConn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		quicConn.CloseWithError(1, "no certificate")
		return
	}
	fp := FingerprintHash(certs[0].Raw)
	log := s.log.With("client", fp.String(), "remote", quicConn.RemoteAddr().String())

	stream, err := quicConn.AcceptStream(ctx)
	if err != nil {
		quicConn.CloseWithError(2, "stream error")
		return
	}

	c := &serverConn{
		fp:       fp,
		quicConn: quicConn,
		enc:      cbor.NewEncoder(stream),
		sessions: make(map[uint32]struct{}),
	}
	c.limitedR = newLimitedReader(stream, s.maxMsgSize)
	c.dec = cbor.NewDecoder(c.limitedR)

	log.DebugContext(ctx, "client connected")
	err = s.readLoop(c)

	for id := range c.sessions {
		s.reg.CloseSession(id)
	}
	if errors.Is(err, ErrMessageTooLarge) {
		log.WarnContext(ctx, "closing client", "err", err)
		quicConn.CloseWithError(3, err.Error())
		return
	}
	quicConn.CloseWithError(0, "")
	log.DebugContext(ctx, "client disconnected")
}

// readLoop serves requests in order until the stream fails.
func (s *Server) readLoop(c *serverConn) error {
	for {
		c.limitedR.Reset()

		var req Request
		if err := c.dec.Decode(&req); err != nil {
			return err
		}
		resp := s.handleRequest(c, &req)
		if err := c.enc.Encode(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(c *serverConn, req *Request) *Response {
	resp := &Response{ID: req.ID}
	switch req.Op {
	case OpOpenSession:
		id, err := s.reg.OpenSession(req.App, req.Types, &req.Params)
		resp.Result = lockdef.ResultOf(err)
		if err == nil {
			c.sessions[id] = struct{}{}
			resp.Session = id
		}
	case OpInvoke:
		if _, ok := c.sessions[req.Session]; !ok {
			resp.Result = lockdef.ResultBadParameters
			break
		}
		params := req.Params
		err := s.reg.Invoke(req.Session, req.Command, req.Types, &params)
		resp.Result = lockdef.ResultOf(err)
		if err == nil {
			resp.Params = params
		}
	case OpCloseSession:
		if _, ok := c.sessions[req.Session]; ok {
			delete(c.sessions, req.Session)
			s.reg.CloseSession(req.Session)
		}
	default:
		resp.Result = lockdef.ResultBadParameters
	}
	return resp
}
