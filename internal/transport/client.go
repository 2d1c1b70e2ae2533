package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/actionrpc/internal/action"
	logs "github.com/danmuck/actionrpc/internal/logging"
	"github.com/danmuck/actionrpc/internal/protocol/frame"
	"github.com/danmuck/actionrpc/internal/protocol/schema"
	"github.com/danmuck/actionrpc/internal/protocol/version"
	"github.com/google/uuid"
)

type traceKey struct{}

// WithTraceID attaches a trace id that is carried in the request header.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace id attached to ctx, if any.
func TraceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceKey{}).(string)
	return id, ok && id != ""
}

type reply struct {
	msg message
	err error
}

// Client is one multiplexed connection to a remote node. Calls are matched
// to responses by message id, so any number may be in flight.
type Client struct {
	addr       string
	wc         *wireConn
	negotiated version.Version
	remote     Hello

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan reply
	closed  bool
	err     error

	once sync.Once
	done chan struct{}
}

type ClientOption func(*dialOptions)

type dialOptions struct {
	observer FrameObserver
	rng      *rand.Rand
}

func WithClientFrameObserver(o FrameObserver) ClientOption {
	return func(d *dialOptions) {
		d.observer = o
	}
}

// Dial connects to addr and completes the handshake, retrying transient
// failures with backoff up to cfg.MaxConnectAttempts.
func Dial(ctx context.Context, addr string, cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	o := dialOptions{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(&o)
	}
	attempts := cfg.MaxConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := dialOnce(ctx, addr, cfg, o.observer)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		logs.Warnf("transport.Dial attempt=%d/%d addr=%q err=%v", attempt, attempts, addr, err)
		if attempt == attempts {
			break
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, o.rng); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transport: dial %s after %d attempts: %w", addr, attempts, lastErr)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrHandshakeRejected),
		errors.Is(err, version.ErrIncompatible),
		errors.Is(err, ErrProtocol),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func dialOnce(ctx context.Context, addr string, cfg Config, observer FrameObserver) (*Client, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := clientTLSConfig(cfg, addr)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		tlsConn := tls.Client(conn, tlsCfg)
		hsCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
		err = tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	wc := newWireConn(conn, cfg, observer)
	negotiated, remote, err := clientHandshake(wc, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c := &Client{
		addr:       addr,
		wc:         wc,
		negotiated: negotiated,
		remote:     remote,
		pending:    make(map[uint64]chan reply),
		done:       make(chan struct{}),
	}
	logs.Infof("transport.Dial connected addr=%q peer_node=%q version=%s", addr, remote.NodeName, negotiated)
	go c.readLoop()
	return c, nil
}

// Version is the protocol version negotiated for this connection.
func (c *Client) Version() version.Version {
	return c.negotiated
}

func (c *Client) RemoteNode() string {
	return c.remote.NodeName
}

// Done is closed once the connection is shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) readLoop() {
	for {
		msg, err := c.wc.readMessage(c.negotiated)
		if err != nil {
			c.shutdown(err)
			return
		}
		if msg.header.MessageType != schema.MsgResponse || !msg.header.Has(frame.FlagIsResponse) {
			c.shutdown(fmt.Errorf("%w: unexpected %s frame from server", ErrProtocol, schema.MessageTypeName(msg.header.MessageType)))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.header.MessageID]
		delete(c.pending, msg.header.MessageID)
		c.mu.Unlock()
		if !ok {
			logs.Debugf("transport.readLoop dropped response message_id=%d trace_id=%q", msg.header.MessageID, msg.vh.TraceID)
			continue
		}
		ch <- reply{msg: msg}
	}
}

func (c *Client) shutdown(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = cause
		for id, ch := range c.pending {
			ch <- reply{err: closedErr(cause)}
			delete(c.pending, id)
		}
		c.mu.Unlock()
		_ = c.wc.Close()
		close(c.done)
		if !errors.Is(cause, ErrClosed) {
			logs.Warnf("transport.Client closed addr=%q err=%v", c.addr, cause)
		}
	})
}

func closedErr(cause error) error {
	if errors.Is(cause, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, cause)
}

func (c *Client) roundTrip(ctx context.Context, name string, payload []byte) (message, error) {
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return message{}, closedErr(err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	trace, ok := TraceID(ctx)
	if !ok {
		trace = uuid.NewString()
	}
	vh := schema.VariableHeader{Action: name, TraceID: trace, ProtocolVersion: c.negotiated}
	if err := c.wc.writeMessage(schema.MsgRequest, id, 0, vh, payload, c.negotiated); err != nil {
		c.forget(id)
		return message{}, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return message{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return message{}, r.err
		}
		if r.msg.vh.ProtocolVersion != c.negotiated {
			return message{}, fmt.Errorf("%w: response encoded at %s, negotiated %s", ErrProtocol, r.msg.vh.ProtocolVersion, c.negotiated)
		}
		return r.msg, nil
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Execute validates req locally, sends it at the negotiated version and
// decodes the typed response. A failure raised by the remote handler is
// returned as *RemoteError.
func Execute[Req action.Request, Resp action.Response](ctx context.Context, c *Client, t *action.Type[Resp], req Req) (Resp, error) {
	var zero Resp
	if err := action.Validate(req); err != nil {
		return zero, err
	}
	payload, err := action.EncodeRequest(req, c.negotiated)
	if err != nil {
		return zero, err
	}
	msg, err := c.roundTrip(ctx, t.Name(), payload)
	if err != nil {
		return zero, err
	}
	if msg.isError() {
		f, err := action.DecodeFailure(msg.payload, c.negotiated)
		if err != nil {
			return zero, err
		}
		return zero, &RemoteError{Node: c.remote.NodeName, Action: t.Name(), Failure: f}
	}
	return action.DecodeResponse(t, msg.payload, c.negotiated)
}
