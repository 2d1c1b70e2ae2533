package action

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danmuck/actionrpc/internal/failure"
)

var (
	ErrValidation            = errors.New("action: validation failed")
	ErrDuplicateAction       = errors.New("action: duplicate action name")
	ErrInvalidActionName     = errors.New("action: invalid action name")
	ErrRegistryFrozen        = errors.New("action: registry frozen")
	ErrDispatcherSealed      = errors.New("action: dispatcher sealed")
	ErrUnknownAction         = errors.New("action: unknown action")
	ErrEmptyLegacyCollection = errors.New("action: empty collection cannot be encoded for a single-value version")
)

// UnknownDiscriminantError reports an enumerated field value that is not
// recognized locally. It is a validation-class error whether it was raised
// by a constructor or while decoding.
type UnknownDiscriminantError struct {
	Field string
	Value string
	Known []string
}

func (e *UnknownDiscriminantError) Error() string {
	return fmt.Sprintf("Unknown %s [%s], expected one of [%s]", e.Field, e.Value, strings.Join(e.Known, ", "))
}

func (e *UnknownDiscriminantError) Is(target error) bool {
	return target == ErrValidation
}

func (e *UnknownDiscriminantError) FailureKind() string {
	return failure.KindStatus
}

func (e *UnknownDiscriminantError) FailureStatus() int {
	return http.StatusBadRequest
}
