package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is "ARPC".
	Magic          uint32 = 0x41525043
	WireVersion    uint16 = 1
	FixedHeaderLen uint16 = 32

	FlagIsResponse uint32 = 0x01
	FlagIsError    uint32 = 0x02
	FlagCompressed uint32 = 0x04
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported wire version")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrVariableTooLarge   = errors.New("frame: variable header too large")
	ErrErrorFlagOnRequest = errors.New("frame: error flag set on a request frame")
)

// Header is the fixed wire header. Version is the frame layout version,
// not the protocol version of the payload; that one travels in the
// variable header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

func (h Header) Has(flag uint32) bool {
	return h.Flags&flag != 0
}

// Frame is one complete wire message: fixed header, variable header (TLV
// fields) and payload.
type Frame struct {
	Header   Header
	Variable []byte
	Payload  []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxVariableBytes uint64
	MaxPayloadBytes  uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxVariableBytes: 16 * 1024,
		MaxPayloadBytes:  8 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != WireVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if h.Has(FlagIsError) && !h.Has(FlagIsResponse) {
		return Frame{}, ErrErrorFlagOnRequest
	}

	variableLen := uint64(h.HeaderLen - FixedHeaderLen)
	if variableLen > limits.MaxVariableBytes {
		return Frame{}, ErrVariableTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	variable := make([]byte, variableLen)
	if variableLen > 0 {
		if _, err := io.ReadFull(r, variable); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: h, Variable: variable, Payload: payload}, nil
}

// WriteFrame fills in Magic, Version and the length fields before writing.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	variableLen := uint64(len(f.Variable))
	payloadLen := uint64(len(f.Payload))
	if variableLen > limits.MaxVariableBytes || variableLen > uint64(^uint16(0)-FixedHeaderLen) {
		return ErrVariableTooLarge
	}
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = WireVersion
	h.HeaderLen = FixedHeaderLen + uint16(variableLen)
	h.PayloadLen = payloadLen

	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Variable)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Variable...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
