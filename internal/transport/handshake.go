package transport

import (
	"fmt"

	"github.com/danmuck/actionrpc/internal/failure"
	"github.com/danmuck/actionrpc/internal/protocol/frame"
	"github.com/danmuck/actionrpc/internal/protocol/schema"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// Hello is exchanged once per connection. It is always encoded at
// version.Minimum so that any two compatible nodes can read it.
type Hello struct {
	Version  version.Version
	NodeName string
}

func (h Hello) encode() []byte {
	w := stream.NewWriter(version.Minimum)
	w.WriteVInt(uint32(h.Version))
	w.WriteString(h.NodeName)
	return w.Bytes()
}

func decodeHello(payload []byte) (Hello, error) {
	r := stream.NewReader(payload, version.Minimum)
	v, err := r.ReadVInt()
	if err != nil {
		return Hello{}, err
	}
	name, err := r.ReadString()
	if err != nil {
		return Hello{}, err
	}
	if err := r.EnsureFullyRead(); err != nil {
		return Hello{}, err
	}
	return Hello{Version: version.Version(v), NodeName: name}, nil
}

var handshakeHeader = schema.VariableHeader{ProtocolVersion: version.Minimum}

func clientHandshake(c *wireConn, cfg Config) (version.Version, Hello, error) {
	c.setDeadline(cfg.HandshakeTimeout)
	defer c.setDeadline(0)

	local := Hello{Version: cfg.Version, NodeName: cfg.NodeName}
	if err := c.writeMessage(schema.MsgHandshake, 0, 0, handshakeHeader, local.encode(), version.Minimum); err != nil {
		return 0, Hello{}, err
	}
	msg, err := c.readMessage(version.Minimum)
	if err != nil {
		return 0, Hello{}, err
	}
	if msg.header.MessageType != schema.MsgHandshake || !msg.header.Has(frame.FlagIsResponse) {
		return 0, Hello{}, fmt.Errorf("%w: expected handshake response, got %s", ErrProtocol, schema.MessageTypeName(msg.header.MessageType))
	}
	if msg.isError() {
		f, err := failure.Read(stream.NewReader(msg.payload, version.Minimum))
		if err != nil {
			return 0, Hello{}, err
		}
		return 0, Hello{}, fmt.Errorf("%w: %v", ErrHandshakeRejected, f)
	}
	remote, err := decodeHello(msg.payload)
	if err != nil {
		return 0, Hello{}, err
	}
	negotiated, err := version.Negotiate(cfg.Version, remote.Version)
	if err != nil {
		return 0, Hello{}, err
	}
	return negotiated, remote, nil
}

func serverHandshake(c *wireConn, cfg Config) (version.Version, Hello, error) {
	c.setDeadline(cfg.HandshakeTimeout)
	defer c.setDeadline(0)

	msg, err := c.readMessage(version.Minimum)
	if err != nil {
		return 0, Hello{}, err
	}
	if msg.header.MessageType != schema.MsgHandshake || msg.header.Has(frame.FlagIsResponse) {
		return 0, Hello{}, fmt.Errorf("%w: expected handshake, got %s", ErrProtocol, schema.MessageTypeName(msg.header.MessageType))
	}
	remote, err := decodeHello(msg.payload)
	if err != nil {
		return 0, Hello{}, err
	}
	negotiated, err := version.Negotiate(cfg.Version, remote.Version)
	if err != nil {
		f := failure.Newf(failure.KindIllegalState,
			"Received handshake from node [%s] with incompatible version [%s]; minimum compatible version is [%s]",
			remote.NodeName, remote.Version, version.Minimum)
		w := stream.NewWriter(version.Minimum)
		if werr := failure.Write(w, f); werr == nil {
			_ = c.writeMessage(schema.MsgHandshake, msg.header.MessageID, frame.FlagIsResponse|frame.FlagIsError,
				handshakeHeader, w.Bytes(), version.Minimum)
		}
		return 0, remote, err
	}

	local := Hello{Version: cfg.Version, NodeName: cfg.NodeName}
	if err := c.writeMessage(schema.MsgHandshake, msg.header.MessageID, frame.FlagIsResponse,
		handshakeHeader, local.encode(), version.Minimum); err != nil {
		return 0, remote, err
	}
	return negotiated, remote, nil
}
