// Package action owns the typed action contract: descriptors, the
// process-wide registry, request validation and dispatch.
//
// Ownership boundary:
// - action descriptors and name registry
// - request/response encode/decode contract
// - validation pipeline and dispatch state machine
package action

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/danmuck/actionrpc/internal/protocol/stream"
)

// Request is the payload a caller sends for an action.
type Request interface {
	// Validate returns nil when the request is valid.
	Validate() *ValidationError
	Encode(w *stream.Writer) error
}

// Response is the payload an action returns.
type Response interface {
	Encode(w *stream.Writer) error
}

// Reader decodes one T from a cursor.
type Reader[T any] func(r *stream.Reader) (T, error)

// Descriptor is the untyped view of an action, used as a routing key.
type Descriptor interface {
	Name() string
	ReadResponse(r *stream.Reader) (Response, error)
}

// Type binds an action name to the logic that rebuilds its response.
// Declare one per action as a package-level var.
type Type[Resp Response] struct {
	name   string
	reader Reader[Resp]
}

// NewType declares an action. An invalid name is a programming error and
// panics.
func NewType[Resp Response](name string, reader Reader[Resp]) *Type[Resp] {
	if err := ValidateName(name); err != nil {
		panic(err)
	}
	if reader == nil {
		panic(fmt.Sprintf("action: nil response reader for %q", name))
	}
	return &Type[Resp]{name: name, reader: reader}
}

func (t *Type[Resp]) Name() string {
	return t.name
}

// Read decodes a typed response.
func (t *Type[Resp]) Read(r *stream.Reader) (Resp, error) {
	return t.reader(r)
}

func (t *Type[Resp]) ReadResponse(r *stream.Reader) (Response, error) {
	resp, err := t.reader(r)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Type[Resp]) String() string {
	return t.name
}

// ValidateName checks the namespaced action name syntax,
// e.g. "cluster:admin/xpack/inference/get".
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidActionName)
	}
	for _, c := range name {
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return fmt.Errorf("%w: %q contains whitespace", ErrInvalidActionName, name)
		}
	}
	scope, rest, ok := strings.Cut(name, ":")
	if !ok || scope == "" || rest == "" {
		return fmt.Errorf("%w: %q must be <scope>:<path>", ErrInvalidActionName, name)
	}
	return nil
}
