// Package failure owns the remote failure envelope: a tagged failure that is
// encoded on the executing node and reconstructed on the calling node.
//
// Receivers never fail to decode an envelope because of an unfamiliar kind;
// they fall back to the generic kind and keep the original message.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
)

// MaxCauseDepth bounds cause chains on both the encode and decode side.
const MaxCauseDepth = 64

// Failure is a structured failure that can cross a process boundary.
type Failure struct {
	Kind     string
	Message  string
	Status   int
	Metadata map[string][]string
	Cause    *Failure

	// OriginalKind is set when the received tag was not a known kind and
	// Kind fell back to KindGeneric.
	OriginalKind string
}

// Kinded is implemented by errors that map onto a specific failure kind.
type Kinded interface {
	error
	FailureKind() string
}

// Statused is implemented by errors that carry their own status.
type Statused interface {
	FailureStatus() int
}

func New(kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message, Status: defaultStatus(kind)}
}

func Newf(kind, format string, args ...any) *Failure {
	return New(kind, fmt.Sprintf(format, args...))
}

// NotFound reports a missing resource.
func NotFound(format string, args ...any) *Failure {
	return Newf(KindResourceNotFound, format, args...)
}

// IllegalArgument reports a caller mistake detected by the handler.
func IllegalArgument(format string, args ...any) *Failure {
	return Newf(KindIllegalArgument, format, args...)
}

// WithStatus reports a failure with an explicit status.
// Codes outside the HTTP status range become 500.
func WithStatus(status int, format string, args ...any) *Failure {
	f := Newf(KindStatus, format, args...)
	f.Status = normalizeStatus(status)
	return f
}

// WithCause sets the cause and returns f.
func (f *Failure) WithCause(cause *Failure) *Failure {
	f.Cause = cause
	return f
}

// WithMetadata appends values under key and returns f.
func (f *Failure) WithMetadata(key string, values ...string) *Failure {
	if f.Metadata == nil {
		f.Metadata = make(map[string][]string)
	}
	f.Metadata[key] = append(f.Metadata[key], values...)
	return f
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind)
	if f.OriginalKind != "" {
		b.WriteString("(" + f.OriginalKind + ")")
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Cause != nil {
		b.WriteString("; caused by: ")
		b.WriteString(f.Cause.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error {
	if f.Cause == nil {
		return nil
	}
	return f.Cause
}

// IsKind reports whether any failure in err's chain has the given kind.
func IsKind(err error, kind string) bool {
	for err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			return false
		}
		if f.Kind == kind || f.OriginalKind == kind {
			return true
		}
		err = f.Unwrap()
	}
	return false
}

// FromError converts a handler error into a failure, keeping the unwrap
// chain as causes.
func FromError(err error) *Failure {
	return fromError(err, 0)
}

func fromError(err error, depth int) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok {
		return f
	}

	kind := KindGeneric
	kinded, isKinded := err.(Kinded)
	switch {
	case isKinded:
		kind = kinded.FailureKind()
	case errors.Is(err, context.Canceled):
		kind = KindTaskCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, stream.ErrDecode):
		kind = KindDecode
	}

	f := New(kind, err.Error())
	if s, ok := err.(Statused); ok {
		f.Status = normalizeStatus(s.FailureStatus())
	}
	if next := errors.Unwrap(err); next != nil && depth < MaxCauseDepth {
		f.Cause = fromError(next, depth+1)
	}
	return f
}

// ToDocument renders f for external output.
func (f *Failure) ToDocument() *document.Object {
	doc := document.NewObject().
		Field("type", f.Kind).
		Field("reason", f.Message).
		Field("status", f.Status)
	doc.FieldIf(f.OriginalKind != "", "original_type", f.OriginalKind)
	doc.FieldIf(len(f.Metadata) > 0, "metadata", f.Metadata)
	if f.Cause != nil {
		doc.Field("caused_by", f.Cause.ToDocument())
	}
	return doc
}
