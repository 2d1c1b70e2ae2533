package action

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/actionrpc/internal/failure"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
	"github.com/danmuck/actionrpc/internal/testutil/testlog"
)

var knownModes = []string{"lower", "upper"}

func parseMode(raw string) (string, error) {
	for _, m := range knownModes {
		if m == raw {
			return m, nil
		}
	}
	return "", &UnknownDiscriminantError{Field: "mode", Value: raw, Known: knownModes}
}

type echoRequest struct {
	Ack   AckRequest
	Text  string
	Mode  string
	Count int
}

func (r *echoRequest) Validate() *ValidationError {
	err := r.Ack.ValidateTimeouts(nil)
	if strings.TrimSpace(r.Text) == "" {
		err = AddValidationError("text must not be empty", err)
	}
	if r.Count < 0 {
		err = AddValidationError("count must not be negative", err)
	}
	return err
}

func (r *echoRequest) Encode(w *stream.Writer) error {
	r.Ack.Encode(w)
	w.WriteString(r.Text)
	w.WriteString(r.Mode)
	w.WriteZLong(int64(r.Count))
	return nil
}

func readEchoRequest(r *stream.Reader) (*echoRequest, error) {
	ack, err := ReadAckRequest(r)
	if err != nil {
		return nil, err
	}
	text, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	rawMode, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(rawMode)
	if err != nil {
		return nil, err
	}
	count, err := r.ReadZLong()
	if err != nil {
		return nil, err
	}
	return &echoRequest{Ack: ack, Text: text, Mode: mode, Count: int(count)}, nil
}

type echoResponse struct {
	Texts []string
}

func writeText(w *stream.Writer, s string) error {
	w.WriteString(s)
	return nil
}

func readText(r *stream.Reader) (string, error) {
	return r.ReadString()
}

func (r *echoResponse) Encode(w *stream.Writer) error {
	return WriteVersionedCollection(w, version.MultipleModels, r.Texts, writeText)
}

func readEchoResponse(r *stream.Reader) (*echoResponse, error) {
	texts, err := ReadVersionedCollection(r, version.MultipleModels, readText)
	if err != nil {
		return nil, err
	}
	return &echoResponse{Texts: texts}, nil
}

var echoAction = NewType("cluster:test/echo", readEchoResponse)

func echoHandler(_ context.Context, req *echoRequest) (*echoResponse, error) {
	text := req.Text
	if req.Mode == "upper" {
		text = strings.ToUpper(text)
	}
	out := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		out = append(out, text)
	}
	return &echoResponse{Texts: out}, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveDispatch(action string, outcome State, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, action+"="+outcome.String())
}

func newEchoDispatcher(t *testing.T, fn HandlerFunc[*echoRequest, *echoResponse], opts ...Option) *Dispatcher {
	t.Helper()
	reg := NewRegistry().MustRegister(echoAction)
	d := NewDispatcher(reg, opts...)
	if err := Handle(d, echoAction, readEchoRequest, fn); err != nil {
		t.Fatalf("handle: %v", err)
	}
	return d.Seal()
}

func validEcho() *echoRequest {
	return &echoRequest{Ack: DefaultAckRequest(), Text: "hi", Mode: "upper", Count: 2}
}

func dispatchRaw(d *Dispatcher, name string, payload []byte, v version.Version) (Result, []byte) {
	out := stream.NewWriter(v)
	res := d.Dispatch(context.Background(), name, stream.NewReader(payload, v), out)
	return res, out.Bytes()
}

func mustEncode(t *testing.T, req Request, v version.Version) []byte {
	t.Helper()
	payload, err := EncodeRequest(req, v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func mustFailure(t *testing.T, payload []byte, v version.Version) *failure.Failure {
	t.Helper()
	f, err := DecodeFailure(payload, v)
	if err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	return f
}

func TestValidateName(t *testing.T) {
	good := []string{"cluster:admin/xpack/inference/get", "indices:data/read/search"}
	for _, name := range good {
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q): %v", name, err)
		}
	}
	bad := []string{"", "  ", "cluster", ":admin", "cluster:", "cluster:admin get"}
	for _, name := range bad {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidActionName) {
			t.Fatalf("ValidateName(%q) = %v, want ErrInvalidActionName", name, err)
		}
	}
}

func TestNewTypePanicsOnInvalidName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewType("not valid", readEchoResponse)
}

func TestRegistryDuplicateAndFreeze(t *testing.T) {
	testlog.Start(t)

	reg := NewRegistry()
	if err := reg.Register(echoAction); err != nil {
		t.Fatalf("register: %v", err)
	}
	twin := NewType("cluster:test/echo", readEchoResponse)
	err := reg.Register(twin)
	if !errors.Is(err, ErrDuplicateAction) || !strings.Contains(err.Error(), "cluster:test/echo") {
		t.Fatalf("expected named duplicate error, got %v", err)
	}
	if err := reg.Register(nil); !errors.Is(err, ErrDescriptorNil) {
		t.Fatalf("expected nil descriptor error, got %v", err)
	}

	other := NewType("cluster:test/another", readEchoResponse)
	reg.Freeze()
	if err := reg.Register(other); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected frozen error, got %v", err)
	}
	if d, ok := reg.Lookup("cluster:test/echo"); !ok || d != Descriptor(echoAction) {
		t.Fatalf("lookup returned %v %v", d, ok)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", reg.Len())
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry().MustRegister(
		NewType("cluster:z/last", readEchoResponse),
		NewType("cluster:a/first", readEchoResponse),
		NewType("indices:m/middle", readEchoResponse),
	)
	want := []string{"cluster:a/first", "cluster:z/last", "indices:m/middle"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("names: got %v want %v", got, want)
	}
}

func TestMustRegisterPanicsOnConflict(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRegistry().MustRegister(echoAction, echoAction)
}

func TestHandleBindingRules(t *testing.T) {
	testlog.Start(t)

	d := NewDispatcher(NewRegistry())
	if err := Handle(d, echoAction, readEchoRequest, echoHandler); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected unknown action, got %v", err)
	}

	twin := NewType("cluster:test/echo", readEchoResponse)
	d = NewDispatcher(NewRegistry().MustRegister(twin))
	if err := Handle(d, echoAction, readEchoRequest, echoHandler); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected descriptor mismatch, got %v", err)
	}

	d = NewDispatcher(NewRegistry().MustRegister(echoAction))
	if err := Handle(d, echoAction, readEchoRequest, echoHandler); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := Handle(d, echoAction, readEchoRequest, echoHandler); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected double bind rejection, got %v", err)
	}
	d.Seal()
	if !d.Registry().Frozen() {
		t.Fatalf("seal should freeze the registry")
	}
	if err := Handle(d, echoAction, readEchoRequest, echoHandler); !errors.Is(err, ErrDispatcherSealed) {
		t.Fatalf("expected sealed error, got %v", err)
	}
}

func TestDispatchSuccessTrace(t *testing.T) {
	testlog.Start(t)

	obs := &recordingObserver{}
	d := newEchoDispatcher(t, echoHandler, WithObserver(obs))
	v := version.Current
	res, reply := dispatchRaw(d, echoAction.Name(), mustEncode(t, validEcho(), v), v)

	if res.State != StateSucceeded || res.Failure != nil || res.Response == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []State{StateReceived, StateDecoding, StateValidating, StateExecuting, StateSucceeded, StateEncoded}
	if !reflect.DeepEqual(res.Trace, want) {
		t.Fatalf("trace: got %v want %v", res.Trace, want)
	}
	resp, err := DecodeResponse(echoAction, reply, v)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !reflect.DeepEqual(resp.Texts, []string{"HI", "HI"}) {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(obs.calls) != 1 || obs.calls[0] != "cluster:test/echo=succeeded" {
		t.Fatalf("observer calls: %v", obs.calls)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	testlog.Start(t)

	obs := &recordingObserver{}
	d := newEchoDispatcher(t, echoHandler, WithObserver(obs))
	v := version.Current
	res, reply := dispatchRaw(d, "cluster:test/missing", nil, v)
	if res.State != StateFailed || res.Response != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	f := mustFailure(t, reply, v)
	if f.Kind != failure.KindActionNotFound || f.Status != http.StatusNotFound {
		t.Fatalf("unexpected failure: %+v", f)
	}
	if obs.calls[0] != UnknownActionLabel+"=failed" {
		t.Fatalf("observer should not see raw unknown names: %v", obs.calls)
	}
}

func TestDispatchDecodeFailures(t *testing.T) {
	testlog.Start(t)

	d := newEchoDispatcher(t, echoHandler)
	v := version.Current
	payload := mustEncode(t, validEcho(), v)

	res, reply := dispatchRaw(d, echoAction.Name(), payload[:len(payload)-1], v)
	if res.State != StateFailed {
		t.Fatalf("truncated: expected failed, got %s", res.State)
	}
	if f := mustFailure(t, reply, v); f.Kind != failure.KindDecode {
		t.Fatalf("truncated: expected decode failure, got %+v", f)
	}

	trailing := append(append([]byte{}, payload...), 0x00)
	res, reply = dispatchRaw(d, echoAction.Name(), trailing, v)
	if res.State != StateFailed {
		t.Fatalf("trailing: expected failed, got %s", res.State)
	}
	f := mustFailure(t, reply, v)
	if f.Kind != failure.KindDecode || !strings.Contains(f.Message, "message not fully read") {
		t.Fatalf("trailing: unexpected failure %+v", f)
	}
}

func TestDispatchUnknownDiscriminantIsValidationClass(t *testing.T) {
	testlog.Start(t)

	called := false
	d := newEchoDispatcher(t, func(ctx context.Context, req *echoRequest) (*echoResponse, error) {
		called = true
		return echoHandler(ctx, req)
	})
	req := validEcho()
	req.Mode = "sideways"
	v := version.Current
	res, reply := dispatchRaw(d, echoAction.Name(), mustEncode(t, req, v), v)
	if res.State != StateValidationFailed || called {
		t.Fatalf("unexpected result: state=%s called=%v", res.State, called)
	}
	f := mustFailure(t, reply, v)
	if f.Kind != failure.KindStatus || f.Status != http.StatusBadRequest {
		t.Fatalf("unexpected failure: %+v", f)
	}

	_, ctorErr := parseMode("sideways")
	if f.Message != ctorErr.Error() {
		t.Fatalf("decode path message %q differs from constructor %q", f.Message, ctorErr.Error())
	}
	if !errors.Is(ctorErr, ErrValidation) {
		t.Fatalf("unknown discriminant should be validation class")
	}
}

func TestDispatchRevalidatesDecodedRequest(t *testing.T) {
	testlog.Start(t)

	called := false
	d := newEchoDispatcher(t, func(ctx context.Context, req *echoRequest) (*echoResponse, error) {
		called = true
		return echoHandler(ctx, req)
	})
	req := &echoRequest{Ack: AckRequest{AckTimeout: -time.Second}, Text: " ", Mode: "lower"}
	v := version.Current
	res, reply := dispatchRaw(d, echoAction.Name(), mustEncode(t, req, v), v)
	if res.State != StateValidationFailed || called {
		t.Fatalf("unexpected result: state=%s called=%v", res.State, called)
	}
	f := mustFailure(t, reply, v)
	want := "Validation Failed: 1: ack_timeout must not be negative;2: text must not be empty;"
	if f.Kind != failure.KindValidation || f.Message != want || f.Status != http.StatusBadRequest {
		t.Fatalf("unexpected failure: %+v", f)
	}
}

type conflictErr struct{}

func (conflictErr) Error() string       { return "version conflict" }
func (conflictErr) FailureKind() string { return failure.KindStatus }
func (conflictErr) FailureStatus() int  { return http.StatusConflict }

func TestDispatchHandlerOutcomesAreExclusive(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name   string
		fn     HandlerFunc[*echoRequest, *echoResponse]
		kind   string
		status int
	}{
		{
			name: "error",
			fn: func(context.Context, *echoRequest) (*echoResponse, error) {
				return nil, conflictErr{}
			},
			kind:   failure.KindStatus,
			status: http.StatusConflict,
		},
		{
			name: "panic",
			fn: func(context.Context, *echoRequest) (*echoResponse, error) {
				panic("boom")
			},
			kind:   failure.KindGeneric,
			status: http.StatusInternalServerError,
		},
		{
			name: "nil response",
			fn: func(context.Context, *echoRequest) (*echoResponse, error) {
				return nil, nil
			},
			kind:   failure.KindIllegalState,
			status: http.StatusInternalServerError,
		},
		{
			name: "both set",
			fn: func(context.Context, *echoRequest) (*echoResponse, error) {
				return &echoResponse{Texts: []string{"x"}}, failure.NotFound("gone")
			},
			kind:   failure.KindResourceNotFound,
			status: http.StatusNotFound,
		},
	}

	v := version.Current
	for _, tc := range cases {
		d := newEchoDispatcher(t, tc.fn)
		res, reply := dispatchRaw(d, echoAction.Name(), mustEncode(t, validEcho(), v), v)
		if res.State != StateFailed || res.Response != nil || res.Failure == nil {
			t.Fatalf("%s: unexpected result %+v", tc.name, res)
		}
		for _, s := range res.Trace {
			if s == StateSucceeded {
				t.Fatalf("%s: trace contains both outcomes: %v", tc.name, res.Trace)
			}
		}
		f := mustFailure(t, reply, v)
		if f.Kind != tc.kind || f.Status != tc.status {
			t.Fatalf("%s: got kind=%s status=%d want %s/%d", tc.name, f.Kind, f.Status, tc.kind, tc.status)
		}
	}
}

func TestDispatchEncodeFailureBecomesFailure(t *testing.T) {
	testlog.Start(t)

	d := newEchoDispatcher(t, echoHandler)
	req := validEcho()
	req.Count = 0
	v := version.V8_0_0
	res, reply := dispatchRaw(d, echoAction.Name(), mustEncode(t, req, v), v)
	if res.State != StateFailed || res.Response != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	f := mustFailure(t, reply, v)
	if !strings.Contains(f.Message, "empty collection") {
		t.Fatalf("unexpected failure: %+v", f)
	}
}

func TestDispatchFlattensUnencodableCauseChain(t *testing.T) {
	testlog.Start(t)

	deep := failure.New(failure.KindGeneric, "root")
	for i := 0; i <= failure.MaxCauseDepth+1; i++ {
		deep = failure.New(failure.KindGeneric, "wrapped").WithCause(deep)
	}
	d := newEchoDispatcher(t, func(context.Context, *echoRequest) (*echoResponse, error) {
		return nil, deep
	})
	v := version.Current
	res, reply := dispatchRaw(d, echoAction.Name(), mustEncode(t, validEcho(), v), v)
	if res.State != StateFailed || res.Trace[len(res.Trace)-1] != StateEncoded {
		t.Fatalf("unexpected result: state=%s trace=%v", res.State, res.Trace)
	}
	f := mustFailure(t, reply, v)
	if f.Message != "wrapped" || f.Cause != nil {
		t.Fatalf("expected flattened envelope, got %+v", f)
	}
}

func TestInvokeRoundTripAtEveryVersion(t *testing.T) {
	testlog.Start(t)

	d := newEchoDispatcher(t, echoHandler)
	for _, info := range version.All() {
		resp, err := Invoke(context.Background(), d, info.ID, echoAction, validEcho())
		if err != nil {
			t.Fatalf("%s: invoke: %v", info.Name, err)
		}
		want := []string{"HI", "HI"}
		if info.ID.Before(version.MultipleModels.Since) {
			want = want[:1]
		}
		if !reflect.DeepEqual(resp.Texts, want) {
			t.Fatalf("%s: got %v want %v", info.Name, resp.Texts, want)
		}
	}
}

func TestInvokeValidatesBeforeEncoding(t *testing.T) {
	testlog.Start(t)

	obs := &recordingObserver{}
	d := newEchoDispatcher(t, echoHandler, WithObserver(obs))
	req := validEcho()
	req.Text = ""
	_, err := Invoke(context.Background(), d, version.Current, echoAction, req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || !reflect.DeepEqual(verr.Messages(), []string{"text must not be empty"}) {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if len(obs.calls) != 0 {
		t.Fatalf("dispatcher should not have been reached: %v", obs.calls)
	}
}

func TestInvokeReturnsRemoteFailure(t *testing.T) {
	testlog.Start(t)

	d := newEchoDispatcher(t, func(context.Context, *echoRequest) (*echoResponse, error) {
		return nil, failure.NotFound("no echo for [%s]", "hi")
	})
	_, err := Invoke(context.Background(), d, version.Current, echoAction, validEcho())
	var f *failure.Failure
	if !errors.As(err, &f) || f.Kind != failure.KindResourceNotFound || f.Message != "no echo for [hi]" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidationDeterminism(t *testing.T) {
	req := &echoRequest{Ack: AckRequest{MasterNodeTimeout: -1, AckTimeout: -1}, Text: "", Count: -1}
	first := req.Validate()
	second := req.Validate()
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Fatalf("validation not deterministic: %v vs %v", first, second)
	}
	want := "Validation Failed: 1: master_node_timeout must not be negative;2: ack_timeout must not be negative;3: text must not be empty;4: count must not be negative;"
	if first.Error() != want {
		t.Fatalf("got %q want %q", first.Error(), want)
	}
	if Validate(validEcho()) != nil {
		t.Fatalf("valid request should yield a nil error")
	}
}

func TestAckRequestRoundTrip(t *testing.T) {
	in := AckRequest{MasterNodeTimeout: 5 * time.Second, AckTimeout: -1}
	w := stream.NewWriter(version.Current)
	in.Encode(w)
	r := stream.NewReader(w.Bytes(), version.Current)
	out, err := ReadAckRequest(r)
	if err != nil || out != in {
		t.Fatalf("round trip: got %+v err=%v", out, err)
	}
	if err := r.EnsureFullyRead(); err != nil {
		t.Fatalf("ensure fully read: %v", err)
	}
	if d := DefaultAckRequest(); d.AckTimeout != 30*time.Second || d.MasterNodeTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestVersionedCollectionCollapseAndUpgrade(t *testing.T) {
	legacy := version.V8_0_0
	w := stream.NewWriter(legacy)
	if err := WriteVersionedCollection(w, version.MultipleModels, []string{"a", "b"}, writeText); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadVersionedCollection(stream.NewReader(w.Bytes(), legacy), version.MultipleModels, readText)
	if err != nil || !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("collapse: got %v err=%v", got, err)
	}

	// A legacy node sends one bare value.
	single := stream.NewWriter(legacy)
	single.WriteString("solo")
	got, err = ReadVersionedCollection(stream.NewReader(single.Bytes(), legacy), version.MultipleModels, readText)
	if err != nil || !reflect.DeepEqual(got, []string{"solo"}) {
		t.Fatalf("upgrade: got %v err=%v", got, err)
	}

	empty := stream.NewWriter(legacy)
	err = WriteVersionedCollection(empty, version.MultipleModels, nil, writeText)
	if !errors.Is(err, ErrEmptyLegacyCollection) || empty.Len() != 0 {
		t.Fatalf("expected empty legacy error, got %v (len %d)", err, empty.Len())
	}

	current := stream.NewWriter(version.Current)
	if err := WriteVersionedCollection(current, version.MultipleModels, nil, writeText); err != nil {
		t.Fatalf("empty collection at current version: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateValidationFailed.String() != "validation_failed" || State(99).String() != "state(99)" {
		t.Fatalf("unexpected state names")
	}
}
