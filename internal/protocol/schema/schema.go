package schema

import (
	"fmt"

	logs "github.com/danmuck/actionrpc/internal/logging"
	"github.com/danmuck/actionrpc/internal/protocol/tlv"
)

// Message type IDs carried in the fixed frame header.
const (
	MsgHandshake uint32 = 1
	MsgRequest   uint32 = 2
	MsgResponse  uint32 = 3
)

// MessageTypeName returns a stable label for a message type.
func MessageTypeName(messageType uint32) string {
	switch messageType {
	case MsgHandshake:
		return "handshake"
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Variable header field IDs.
const (
	FieldAction          uint16 = 1
	FieldTraceID         uint16 = 2
	FieldProtocolVersion uint16 = 3
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgHandshake: {
		{FieldProtocolVersion, tlv.TypeU32},
	},
	MsgRequest: {
		{FieldAction, tlv.TypeString},
		{FieldProtocolVersion, tlv.TypeU32},
	},
	MsgResponse: {
		{FieldProtocolVersion, tlv.TypeU32},
	},
}

// Optional fields are type-checked only when present.
var optional = []Requirement{
	{FieldTraceID, tlv.TypeString},
}

// Validate enforces required fields and field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logs.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logs.Errf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logs.Errf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional {
		if f, found := tlv.GetField(fields, opt.ID); found && f.Type != opt.Type {
			return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
		}
	}
	logs.Debugf("schema.Validate ok message_type=%d fields=%d", messageType, len(fields))
	return nil
}
