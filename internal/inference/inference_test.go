package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/failure"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
	"github.com/danmuck/actionrpc/internal/testutil/testlog"
)

func elser() *ModelConfigurations {
	return &ModelConfigurations{
		InferenceEntityID: "my-elser",
		TaskType:          SparseEmbedding,
		Service:           "elser",
		ServiceSettings:   map[string]string{"num_allocations": "1", "num_threads": "1"},
	}
}

func e5() *ModelConfigurations {
	return &ModelConfigurations{
		InferenceEntityID: "my-e5",
		TaskType:          TextEmbedding,
		Service:           "elasticsearch",
		ServiceSettings:   map[string]string{"model_id": ".multilingual-e5-small"},
		TaskSettings:      map[string]string{"truncate": "end"},
	}
}

func newDispatcher(t *testing.T, store ModelStore) *action.Dispatcher {
	t.Helper()
	d := action.NewDispatcher(action.NewRegistry().MustRegister(GetModelAction))
	if err := Bind(d, store); err != nil {
		t.Fatalf("bind: %v", err)
	}
	return d.Seal()
}

func TestParseTaskType(t *testing.T) {
	for _, name := range TaskTypeNames() {
		tt, err := ParseTaskType(name)
		if err != nil || tt.String() != name {
			t.Fatalf("ParseTaskType(%q) = %v, %v", name, tt, err)
		}
	}
	if tt, err := ParseTaskType(" Text_Embedding "); err != nil || tt != TextEmbedding {
		t.Fatalf("expected case-insensitive parse, got %v %v", tt, err)
	}
	if !SparseEmbedding.Matches(AnyTask) || SparseEmbedding.Matches(TextEmbedding) {
		t.Fatalf("unexpected match semantics")
	}
}

func TestUnknownTaskTypeSameViaConstructorAndDecode(t *testing.T) {
	_, ctorErr := NewGetModelRequest("my-elser", "image_generation")
	var ctorUnknown *action.UnknownDiscriminantError
	if !errors.As(ctorErr, &ctorUnknown) || !errors.Is(ctorErr, action.ErrValidation) {
		t.Fatalf("constructor: unexpected error %v", ctorErr)
	}

	w := stream.NewWriter(version.Current)
	action.DefaultAckRequest().Encode(w)
	w.WriteString("my-elser")
	w.WriteString("image_generation")
	_, decodeErr := ReadGetModelRequest(stream.NewReader(w.Bytes(), version.Current))
	var decodeUnknown *action.UnknownDiscriminantError
	if !errors.As(decodeErr, &decodeUnknown) {
		t.Fatalf("decode: unexpected error %v", decodeErr)
	}
	if ctorErr.Error() != decodeErr.Error() {
		t.Fatalf("constructor %q and decode %q disagree", ctorErr, decodeErr)
	}
	if !strings.HasPrefix(decodeErr.Error(), "Unknown task_type [image_generation]") {
		t.Fatalf("unexpected message %q", decodeErr)
	}
}

func TestUndeclaredTaskTypeRejectedBeforeEncoding(t *testing.T) {
	testlog.Start(t)

	req := &GetModelRequest{Ack: action.DefaultAckRequest(), InferenceEntityID: "my-elser", TaskType: TaskType(42)}
	if TaskType(42).Valid() || TaskType(-1).Valid() || !AnyTask.Valid() {
		t.Fatalf("unexpected Valid results")
	}

	err := action.Validate(req)
	var unknown *action.UnknownDiscriminantError
	if !errors.As(err, &unknown) || !errors.Is(err, action.ErrValidation) {
		t.Fatalf("validate: expected unknown discriminant, got %v", err)
	}
	if unknown.Field != "task_type" || unknown.Value != "42" {
		t.Fatalf("unexpected discriminant error %+v", unknown)
	}

	d := newDispatcher(t, NewMemoryModelStore(elser()))
	resp, err := action.Invoke(context.Background(), d, version.Current, GetModelAction, req)
	var f *failure.Failure
	if !errors.As(err, &unknown) || errors.As(err, &f) || resp != nil {
		t.Fatalf("invoke: expected local rejection, got %+v %v", resp, err)
	}

	if _, err := action.EncodeRequest(req, version.Current); !errors.As(err, &unknown) {
		t.Fatalf("encode request: expected unknown discriminant, got %v", err)
	}
	bad := e5()
	bad.TaskType = TaskType(42)
	w := stream.NewWriter(version.Current)
	if err := bad.Encode(w); !errors.As(err, &unknown) || len(w.Bytes()) != 0 {
		t.Fatalf("encode model: expected rejection with nothing written, got %v (%d bytes)", err, len(w.Bytes()))
	}
}

func TestRequestRoundTripAtEveryVersion(t *testing.T) {
	req, err := NewGetModelRequest("my-e5", "text_embedding")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for _, info := range version.All() {
		payload, err := action.EncodeRequest(req, info.ID)
		if err != nil {
			t.Fatalf("%s: encode: %v", info.Name, err)
		}
		r := stream.NewReader(payload, info.ID)
		got, err := ReadGetModelRequest(r)
		if err != nil {
			t.Fatalf("%s: decode: %v", info.Name, err)
		}
		if err := r.EnsureFullyRead(); err != nil {
			t.Fatalf("%s: %v", info.Name, err)
		}
		if *got != *req {
			t.Fatalf("%s: got %+v want %+v", info.Name, got, req)
		}
	}
}

func TestResponseRoundTripAtEveryVersion(t *testing.T) {
	resp := &GetModelResponse{Models: []*ModelConfigurations{e5()}}
	for _, info := range version.All() {
		w := stream.NewWriter(info.ID)
		if err := resp.Encode(w); err != nil {
			t.Fatalf("%s: encode: %v", info.Name, err)
		}
		got, err := action.DecodeResponse(GetModelAction, w.Bytes(), info.ID)
		if err != nil {
			t.Fatalf("%s: decode: %v", info.Name, err)
		}
		if !got.Equal(resp) {
			t.Fatalf("%s: round trip mismatch %+v", info.Name, got.Models[0])
		}
	}
}

func TestResponseCollapsesForLegacyPeers(t *testing.T) {
	resp := &GetModelResponse{Models: []*ModelConfigurations{elser(), e5()}}

	legacy := version.V8_0_0
	w := stream.NewWriter(legacy)
	if err := resp.Encode(w); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := action.DecodeResponse(GetModelAction, w.Bytes(), legacy)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Models) != 1 || !got.Models[0].Equal(elser()) {
		t.Fatalf("expected only the first model, got %+v", got.Models)
	}

	// A payload from a legacy node is a single bare model.
	single := stream.NewWriter(legacy)
	if err := e5().Encode(single); err != nil {
		t.Fatalf("encode single: %v", err)
	}
	upgraded, err := action.DecodeResponse(GetModelAction, single.Bytes(), legacy)
	if err != nil {
		t.Fatalf("decode single: %v", err)
	}
	if len(upgraded.Models) != 1 || !upgraded.Models[0].Equal(e5()) {
		t.Fatalf("expected one-element collection, got %+v", upgraded.Models)
	}

	empty := stream.NewWriter(legacy)
	if err := (&GetModelResponse{}).Encode(empty); !errors.Is(err, action.ErrEmptyLegacyCollection) {
		t.Fatalf("expected empty legacy error, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	for _, id := range []string{"my-elser", AllEndpoints, "*"} {
		req, err := NewGetModelRequest(id, "any")
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if verr := req.Validate(); verr != nil {
			t.Fatalf("%q should be valid: %v", id, verr)
		}
	}

	req := &GetModelRequest{InferenceEntityID: "  ", Ack: action.AckRequest{MasterNodeTimeout: -1}}
	first := req.Validate()
	second := req.Validate()
	if first == nil || first.Error() != second.Error() {
		t.Fatalf("validation not deterministic: %v / %v", first, second)
	}
	if !strings.Contains(first.Error(), EmptyInferenceEntityIDMessage) ||
		!strings.Contains(first.Error(), "master_node_timeout must not be negative") {
		t.Fatalf("unexpected validation message %q", first.Error())
	}
}

func TestGetModelEndToEnd(t *testing.T) {
	testlog.Start(t)

	store := NewMemoryModelStore(elser(), e5())
	d := newDispatcher(t, store)
	ctx := context.Background()

	req, _ := NewGetModelRequest(AllEndpoints, "any")
	resp, err := action.Invoke(ctx, d, version.Current, GetModelAction, req)
	if err != nil {
		t.Fatalf("invoke all: %v", err)
	}
	if len(resp.Models) != 2 || resp.Models[0].InferenceEntityID != "my-e5" {
		t.Fatalf("expected both models sorted by id, got %+v", resp.Models)
	}

	legacyResp, err := action.Invoke(ctx, d, version.V8_0_0, GetModelAction, req)
	if err != nil {
		t.Fatalf("invoke legacy: %v", err)
	}
	if len(legacyResp.Models) != 1 || legacyResp.Models[0].InferenceEntityID != "my-e5" {
		t.Fatalf("expected collapsed response, got %+v", legacyResp.Models)
	}

	req, _ = NewGetModelRequest("missing", "any")
	_, err = action.Invoke(ctx, d, version.Current, GetModelAction, req)
	if !failure.IsKind(err, failure.KindResourceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	req, _ = NewGetModelRequest("my-elser", "completion")
	_, err = action.Invoke(ctx, d, version.Current, GetModelAction, req)
	var f *failure.Failure
	if !errors.As(err, &f) || f.Status != http.StatusBadRequest {
		t.Fatalf("expected task type mismatch, got %v", err)
	}
}

func TestWildcardWithNoMatchesAtLegacyVersion(t *testing.T) {
	testlog.Start(t)

	d := newDispatcher(t, NewMemoryModelStore())
	req, _ := NewGetModelRequest(AllEndpoints, "any")

	resp, err := action.Invoke(context.Background(), d, version.Current, GetModelAction, req)
	if err != nil || len(resp.Models) != 0 {
		t.Fatalf("expected empty result, got %+v %v", resp, err)
	}
	_, err = action.Invoke(context.Background(), d, version.V8_0_0, GetModelAction, req)
	var f *failure.Failure
	if !errors.As(err, &f) || !strings.Contains(f.Error(), "empty collection") {
		t.Fatalf("expected encode failure, got %v", err)
	}
}

func TestResponseDocumentSkipsNilModels(t *testing.T) {
	resp := &GetModelResponse{Models: []*ModelConfigurations{elser(), nil}}
	out, err := document.RenderJSON(resp.ToDocument(), false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `{"models":[{"inference_id":"my-elser","task_type":"sparse_embedding","service":"elser",` +
		`"service_settings":{"num_allocations":"1","num_threads":"1"},"task_settings":{}}]}`
	if string(out) != want {
		t.Fatalf("got %s\nwant %s", out, want)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewMemoryModelStore(elser())
	models, err := store.Models(context.Background(), "my-elser", AnyTask)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	models[0].ServiceSettings["num_threads"] = "8"
	again, _ := store.Models(context.Background(), "my-elser", AnyTask)
	if again[0].ServiceSettings["num_threads"] != "1" {
		t.Fatalf("store leaked internal state")
	}
}
