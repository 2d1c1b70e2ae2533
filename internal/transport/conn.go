package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/actionrpc/internal/protocol/frame"
	"github.com/danmuck/actionrpc/internal/protocol/schema"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// FrameObserver is notified for every frame read or written.
type FrameObserver interface {
	ObserveFrame(direction string, messageType uint32)
}

type message struct {
	header  frame.Header
	vh      schema.VariableHeader
	payload []byte
}

func (m message) isError() bool {
	return m.header.Has(frame.FlagIsError)
}

// wireConn frames messages over one connection. Writes are serialized;
// reads belong to a single goroutine.
type wireConn struct {
	conn     net.Conn
	reader   *bufio.Reader
	cfg      Config
	observer FrameObserver
	wmu      sync.Mutex
}

func newWireConn(conn net.Conn, cfg Config, observer FrameObserver) *wireConn {
	return &wireConn{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		cfg:      cfg,
		observer: observer,
	}
}

// writeMessage compresses payload when the negotiated version allows it and
// it is at least CompressionThreshold bytes.
func (c *wireConn) writeMessage(msgType uint32, id uint64, flags uint32, vh schema.VariableHeader, payload []byte, negotiated version.Version) error {
	if c.cfg.Compression && negotiated.Supports(version.Compression) &&
		c.cfg.CompressionThreshold > 0 && len(payload) >= c.cfg.CompressionThreshold {
		if compressed, ok := compressPayload(payload); ok {
			payload = compressed
			flags |= frame.FlagCompressed
		}
	}
	fr := frame.Frame{
		Header:   frame.Header{MessageID: id, MessageType: msgType, Flags: flags},
		Variable: vh.Encode(),
		Payload:  payload,
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(c.conn, fr, c.cfg.Limits); err != nil {
		return err
	}
	if c.observer != nil {
		c.observer.ObserveFrame(DirectionOut, msgType)
	}
	return nil
}

func (c *wireConn) readMessage(negotiated version.Version) (message, error) {
	fr, err := frame.ReadFrame(c.reader, c.cfg.Limits)
	if err != nil {
		return message{}, err
	}
	if c.observer != nil {
		c.observer.ObserveFrame(DirectionIn, fr.Header.MessageType)
	}
	vh, err := schema.DecodeVariableHeader(fr.Header.MessageType, fr.Variable)
	if err != nil {
		return message{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	payload := fr.Payload
	if fr.Header.Has(frame.FlagCompressed) {
		if !negotiated.Supports(version.Compression) {
			return message{}, fmt.Errorf("%w: compressed frame at %s", ErrProtocol, negotiated)
		}
		if payload, err = decompressPayload(payload, c.cfg.Limits.MaxPayloadBytes); err != nil {
			return message{}, err
		}
	}
	return message{header: fr.Header, vh: vh, payload: payload}, nil
}

func (c *wireConn) setDeadline(d time.Duration) {
	if d > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(d))
		return
	}
	_ = c.conn.SetDeadline(time.Time{})
}

func (c *wireConn) Close() error {
	return c.conn.Close()
}
