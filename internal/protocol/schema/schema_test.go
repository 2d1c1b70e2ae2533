package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/actionrpc/internal/protocol/tlv"
	"github.com/danmuck/actionrpc/internal/protocol/version"
	"github.com/danmuck/actionrpc/internal/testutil/testlog"
)

func TestValidateRequestRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldAction, "cluster:admin/xpack/inference/get"),
		tlv.U32(FieldProtocolVersion, uint32(version.Current)),
	}
	if err := Validate(MsgRequest, fields); err != nil {
		t.Fatalf("validate request: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U32(FieldProtocolVersion, uint32(version.Current)),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgResponse, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U32(FieldProtocolVersion, uint32(version.Current))}
	err := Validate(MsgRequest, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldAction || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldAction, "cluster:x/y"),
		tlv.String(FieldProtocolVersion, "8500061"),
	}
	err := Validate(MsgRequest, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldProtocolVersion || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateOptionalTraceIDType(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U32(FieldProtocolVersion, uint32(version.Current)),
		tlv.U32(FieldTraceID, 7),
	}
	err := Validate(MsgHandshake, fields)
	ve, ok := err.(ValidationError)
	if !ok || ve.FieldID != FieldTraceID {
		t.Fatalf("expected trace id type mismatch, got %v", err)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVariableHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := VariableHeader{
		Action:          "cluster:admin/xpack/connector/sync_job/delete",
		TraceID:         "trace-1",
		ProtocolVersion: version.V8_0_0,
	}
	out, err := DecodeVariableHeader(MsgRequest, in.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v want %+v", out, in)
	}

	resp := VariableHeader{ProtocolVersion: version.Current}
	out, err = DecodeVariableHeader(MsgResponse, resp.Encode())
	if err != nil || out != resp {
		t.Fatalf("response header: %+v %v", out, err)
	}
}

func TestDecodeVariableHeaderRejectsMissingAction(t *testing.T) {
	testlog.Start(t)
	raw := VariableHeader{ProtocolVersion: version.Current}.Encode()
	_, err := DecodeVariableHeader(MsgRequest, raw)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.FieldID != FieldAction {
		t.Fatalf("expected missing action, got %v", err)
	}
}
