package action

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/danmuck/actionrpc/internal/failure"
	logs "github.com/danmuck/actionrpc/internal/logging"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/rs/zerolog"
)

// State is a step of one dispatched call.
type State int

const (
	StateReceived State = iota
	StateDecoding
	StateValidating
	StateValidationFailed
	StateExecuting
	StateSucceeded
	StateFailed
	StateEncoded
	StateSent
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDecoding:
		return "decoding"
	case StateValidating:
		return "validating"
	case StateValidationFailed:
		return "validation_failed"
	case StateExecuting:
		return "executing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateEncoded:
		return "encoded"
	case StateSent:
		return "sent"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// UnknownActionLabel is reported to observers for names with no handler.
const UnknownActionLabel = "_unknown"

// HandlerFunc executes a decoded, validated request.
type HandlerFunc[Req Request, Resp Response] func(ctx context.Context, req Req) (Resp, error)

// Observer receives one notification per dispatched call with its outcome.
type Observer interface {
	ObserveDispatch(action string, outcome State, elapsed time.Duration)
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
		d.hasLogger = true
	}
}

// Result is the outcome of one dispatched call. Exactly one of Response and
// Failure is set.
type Result struct {
	Action   string
	State    State
	Response Response
	Failure  *failure.Failure
	// Trace lists every state the call passed through.
	Trace []State
}

// Succeeded reports whether the reply payload holds a response.
func (r Result) Succeeded() bool {
	return r.Failure == nil
}

func (r *Result) enter(s State) {
	r.Trace = append(r.Trace, s)
	switch s {
	case StateSucceeded, StateFailed, StateValidationFailed:
		r.State = s
	}
}

// MarkSent records that the transport delivered the encoded reply.
func (r *Result) MarkSent() {
	r.Trace = append(r.Trace, StateSent)
}

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

type boundHandler interface {
	decode(r *stream.Reader) (Request, error)
	execute(ctx context.Context, req Request) (Response, error)
}

type binding[Req Request, Resp Response] struct {
	read Reader[Req]
	fn   HandlerFunc[Req, Resp]
}

func (b *binding[Req, Resp]) decode(r *stream.Reader) (Request, error) {
	req, err := b.read(r)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (b *binding[Req, Resp]) execute(ctx context.Context, req Request) (Response, error) {
	typed, ok := req.(Req)
	if !ok {
		return nil, failure.Newf(failure.KindIllegalState, "request type %T does not match handler", req)
	}
	resp, err := b.fn(ctx, typed)
	if err != nil {
		return nil, err
	}
	if isNil(resp) {
		return nil, nil
	}
	return resp, nil
}

// Dispatcher routes decoded requests to their handlers. Bind every handler
// during startup, then Seal; a sealed dispatcher is safe for concurrent use.
type Dispatcher struct {
	registry  *Registry
	bindings  map[string]boundHandler
	observer  Observer
	logger    zerolog.Logger
	hasLogger bool
	sealed    bool
}

func NewDispatcher(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		bindings: make(map[string]boundHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle binds fn to t. t must be the descriptor instance registered under
// its name.
func Handle[Req Request, Resp Response](d *Dispatcher, t *Type[Resp], read Reader[Req], fn HandlerFunc[Req, Resp]) error {
	if d.sealed {
		return fmt.Errorf("%w: cannot bind %q", ErrDispatcherSealed, t.Name())
	}
	if read == nil || fn == nil {
		return fmt.Errorf("action: nil reader or handler for %q", t.Name())
	}
	registered, ok := d.registry.Lookup(t.Name())
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, t.Name())
	}
	if registered != Descriptor(t) {
		return fmt.Errorf("%w: %q registered with a different descriptor", ErrDuplicateAction, t.Name())
	}
	if _, bound := d.bindings[t.Name()]; bound {
		return fmt.Errorf("%w: handler already bound for %q", ErrDuplicateAction, t.Name())
	}
	d.bindings[t.Name()] = &binding[Req, Resp]{read: read, fn: fn}
	return nil
}

// MustHandle is Handle for startup wiring; it panics on error.
func MustHandle[Req Request, Resp Response](d *Dispatcher, t *Type[Resp], read Reader[Req], fn HandlerFunc[Req, Resp]) {
	if err := Handle(d, t, read, fn); err != nil {
		panic(err)
	}
}

// Seal stops further binding and freezes the registry.
func (d *Dispatcher) Seal() *Dispatcher {
	d.sealed = true
	d.registry.Freeze()
	return d
}

func (d *Dispatcher) Sealed() bool {
	return d.sealed
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Bound reports whether name has a handler.
func (d *Dispatcher) Bound(name string) bool {
	_, ok := d.bindings[name]
	return ok
}

// Dispatch decodes a request for name from in, validates and executes it,
// and encodes the reply onto out. out must be empty and share in's version.
// On a failure out holds the encoded failure envelope instead of a response.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, in *stream.Reader, out *stream.Writer) Result {
	start := time.Now()
	res := Result{Action: name}
	res.enter(StateReceived)

	label := name
	defer func() {
		if d.observer != nil {
			d.observer.ObserveDispatch(label, res.State, time.Since(start))
		}
	}()

	b, ok := d.bindings[name]
	if !ok {
		label = UnknownActionLabel
		d.fail(&res, out, failure.Newf(failure.KindActionNotFound, "No handler for action [%s]", name))
		return res
	}

	res.enter(StateDecoding)
	req, err := b.decode(in)
	if err == nil {
		err = in.EnsureFullyRead()
		if err != nil {
			err = fmt.Errorf("message not fully read (request) for action [%s]: %w", name, err)
		}
	}
	if err != nil {
		var unknown *UnknownDiscriminantError
		if errors.As(err, &unknown) {
			d.reject(&res, out, failure.FromError(unknown))
			return res
		}
		d.fail(&res, out, failure.Newf(failure.KindDecode, "%v", err))
		return res
	}

	res.enter(StateValidating)
	if verr := Validate(req); verr != nil {
		d.reject(&res, out, failure.FromError(verr))
		return res
	}

	res.enter(StateExecuting)
	resp, err := d.execute(ctx, name, b, req)
	if err != nil {
		d.fail(&res, out, failure.FromError(err))
		return res
	}
	if resp == nil {
		d.fail(&res, out, failure.Newf(failure.KindIllegalState, "handler for [%s] returned no response", name))
		return res
	}
	if err := resp.Encode(out); err != nil {
		out.Reset()
		d.fail(&res, out, failure.FromError(fmt.Errorf("encode response for [%s]: %w", name, err)))
		return res
	}
	res.Response = resp
	res.enter(StateSucceeded)
	res.enter(StateEncoded)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, name string, b boundHandler, req Request) (resp Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.log().Error().
				Str("action", name).
				Str("panic", fmt.Sprint(p)).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			resp = nil
			err = failure.Newf(failure.KindGeneric, "handler for [%s] panicked: %v", name, p)
		}
	}()
	return b.execute(ctx, req)
}

func (d *Dispatcher) reject(res *Result, out *stream.Writer, f *failure.Failure) {
	res.Failure = f
	res.enter(StateValidationFailed)
	d.writeFailure(res, out)
}

func (d *Dispatcher) fail(res *Result, out *stream.Writer, f *failure.Failure) {
	res.Failure = f
	res.enter(StateFailed)
	d.writeFailure(res, out)
}

func (d *Dispatcher) writeFailure(res *Result, out *stream.Writer) {
	l := d.log()
	l.Debug().Str("action", res.Action).Str("state", res.State.String()).Err(res.Failure).Msg("dispatch failed")
	if err := failure.Write(out, res.Failure); err != nil {
		l.Warn().Str("action", res.Action).Err(err).Msg("failure envelope dropped cause chain")
		out.Reset()
		flat := *res.Failure
		flat.Cause = nil
		if err := failure.Write(out, &flat); err != nil {
			logs.Errf("action.Dispatch failure encode action=%q err=%v", res.Action, err)
			out.Reset()
			return
		}
	}
	res.enter(StateEncoded)
}

func (d *Dispatcher) log() *zerolog.Logger {
	if d.hasLogger {
		return &d.logger
	}
	l := logs.Logger()
	return &l
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
