package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/failure"
	logs "github.com/danmuck/actionrpc/internal/logging"
	"github.com/danmuck/actionrpc/internal/protocol/frame"
	"github.com/danmuck/actionrpc/internal/protocol/schema"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// Server accepts connections and feeds request frames to a sealed
// dispatcher. Each request runs in its own goroutine.
type Server struct {
	cfg        Config
	dispatcher *action.Dispatcher
	observer   FrameObserver

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	active  atomic.Int64
}

type ServerOption func(*Server)

func WithServerFrameObserver(o FrameObserver) ServerOption {
	return func(s *Server) {
		s.observer = o
	}
}

func NewServer(cfg Config, d *action.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen opens a TCP or TLS listener based on the transport policy.
func (s *Server) Listen(addr string) (net.Listener, error) {
	if err := s.cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !s.cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := serverTLSConfig(s.cfg)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Serve runs the accept loop until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.ValidateServerTransport(); err != nil {
		return err
	}
	if !s.dispatcher.Sealed() {
		return fmt.Errorf("transport: dispatcher must be sealed before serving")
	}
	defer ln.Close()
	logs.Infof("transport.Server serving addr=%q node=%q version=%s", ln.Addr().String(), s.cfg.NodeName, s.cfg.Version)
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn)
	}
}

// ActiveConnections reports connections that completed the handshake.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()

	peer, err := s.authenticateConn(conn)
	if err != nil {
		logs.Warnf("transport.handleConn transport auth remote=%q err=%v", remote, err)
		return
	}

	wc := newWireConn(conn, s.cfg, s.observer)
	negotiated, hello, err := serverHandshake(wc, s.cfg)
	if err != nil {
		logs.Warnf("transport.handleConn handshake remote=%q peer_node=%q err=%v", remote, hello.NodeName, err)
		return
	}
	active := s.active.Add(1)
	logs.Infof(
		"transport.session connected remote=%q peer_node=%q peer_identity=%q version=%s active=%d",
		remote, hello.NodeName, peer, negotiated, active,
	)
	defer func() {
		remaining := s.active.Add(-1)
		logs.Infof("transport.session disconnected remote=%q peer_node=%q active=%d", remote, hello.NodeName, remaining)
	}()

	var inflight sync.WaitGroup
	defer inflight.Wait()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		msg, err := wc.readMessage(negotiated)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && connCtx.Err() == nil {
				logs.Warnf("transport.handleConn read remote=%q err=%v", remote, err)
			}
			return
		}
		if msg.header.MessageType != schema.MsgRequest || msg.header.Has(frame.FlagIsResponse) {
			logs.Warnf(
				"transport.handleConn unexpected message_type=%s remote=%q",
				schema.MessageTypeName(msg.header.MessageType),
				remote,
			)
			return
		}
		inflight.Add(1)
		go func(msg message) {
			defer inflight.Done()
			s.serveRequest(connCtx, wc, negotiated, msg)
		}(msg)
	}
}

func (s *Server) serveRequest(ctx context.Context, wc *wireConn, negotiated version.Version, msg message) {
	out := stream.NewWriter(negotiated)
	var res action.Result
	isError := false
	if msg.vh.ProtocolVersion != negotiated {
		isError = true
		writeFailure(out, failure.Newf(failure.KindDecode,
			"request for [%s] encoded at [%s] but connection negotiated [%s]", msg.vh.Action, msg.vh.ProtocolVersion, negotiated))
	} else {
		res = s.dispatcher.Dispatch(ctx, msg.vh.Action, stream.NewReader(msg.payload, negotiated), out)
		isError = !res.Succeeded()
	}

	vh := schema.VariableHeader{TraceID: msg.vh.TraceID, ProtocolVersion: negotiated}
	err := s.reply(wc, msg.header.MessageID, isError, vh, out.Bytes(), negotiated)
	if errors.Is(err, frame.ErrPayloadTooLarge) {
		out.Reset()
		writeFailure(out, failure.Newf(failure.KindGeneric,
			"response for [%s] exceeds max payload of %d bytes", msg.vh.Action, s.cfg.Limits.MaxPayloadBytes))
		err = s.reply(wc, msg.header.MessageID, true, vh, out.Bytes(), negotiated)
	}
	if err != nil {
		logs.Warnf("transport.serveRequest write action=%q trace_id=%q err=%v", msg.vh.Action, msg.vh.TraceID, err)
		return
	}
	res.MarkSent()
	logs.Debugf("transport.serveRequest sent action=%q trace_id=%q state=%s", msg.vh.Action, msg.vh.TraceID, res.State)
}

func (s *Server) reply(wc *wireConn, id uint64, isError bool, vh schema.VariableHeader, payload []byte, negotiated version.Version) error {
	flags := frame.FlagIsResponse
	if isError {
		flags |= frame.FlagIsError
	}
	return wc.writeMessage(schema.MsgResponse, id, flags, vh, payload, negotiated)
}

func writeFailure(w *stream.Writer, f *failure.Failure) {
	if err := failure.Write(w, f); err != nil {
		logs.Errf("transport.writeFailure kind=%q err=%v", f.Kind, err)
	}
}

// authenticateConn enforces TLS/mTLS and returns the peer identity.
func (s *Server) authenticateConn(conn net.Conn) (string, error) {
	mode := NormalizeSecurityMode(s.cfg.SecurityMode)
	if !s.cfg.TLS.Enabled {
		if mode == SecurityModeProduction {
			return "", ErrTLSRequired
		}
		return "", nil
	}

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return "", fmt.Errorf("transport: expected tls connection")
	}
	_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return "", err
	}
	state := tlsConn.ConnectionState()

	needPeer := s.cfg.TLS.Mutual || mode == SecurityModeProduction
	if !needPeer && len(state.PeerCertificates) == 0 {
		return "", nil
	}
	if len(state.PeerCertificates) == 0 {
		return "", ErrMTLSRequired
	}
	id := strings.TrimSpace(peerIdentity(state.PeerCertificates[0]))
	if id == "" {
		return "", fmt.Errorf("transport: empty peer identity from certificate")
	}
	return id, nil
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
