package schema

import (
	"github.com/danmuck/actionrpc/internal/protocol/tlv"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// VariableHeader is the decoded variable header of one frame.
type VariableHeader struct {
	Action          string
	TraceID         string
	ProtocolVersion version.Version
}

// Encode writes the header fields; empty optional fields are omitted.
func (h VariableHeader) Encode() []byte {
	fields := make([]tlv.Field, 0, 3)
	if h.Action != "" {
		fields = append(fields, tlv.String(FieldAction, h.Action))
	}
	if h.TraceID != "" {
		fields = append(fields, tlv.String(FieldTraceID, h.TraceID))
	}
	fields = append(fields, tlv.U32(FieldProtocolVersion, uint32(h.ProtocolVersion)))
	return tlv.EncodeFields(fields)
}

// DecodeVariableHeader parses and validates raw for messageType.
func DecodeVariableHeader(messageType uint32, raw []byte) (VariableHeader, error) {
	fields, err := tlv.DecodeFields(raw)
	if err != nil {
		return VariableHeader{}, err
	}
	if err := Validate(messageType, fields); err != nil {
		return VariableHeader{}, err
	}

	var h VariableHeader
	if f, ok := tlv.GetField(fields, FieldAction); ok {
		if h.Action, err = f.AsString(); err != nil {
			return VariableHeader{}, err
		}
		if messageType == MsgRequest && h.Action == "" {
			return VariableHeader{}, ValidationError{MessageType: messageType, FieldID: FieldAction, Reason: "empty action"}
		}
	}
	if f, ok := tlv.GetField(fields, FieldTraceID); ok {
		if h.TraceID, err = f.AsString(); err != nil {
			return VariableHeader{}, err
		}
	}
	f, _ := tlv.GetField(fields, FieldProtocolVersion)
	v, err := f.AsU32()
	if err != nil {
		return VariableHeader{}, err
	}
	h.ProtocolVersion = version.Version(v)
	return h, nil
}
