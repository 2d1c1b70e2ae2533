package action

import (
	"strconv"
	"strings"

	"github.com/danmuck/actionrpc/internal/failure"
)

// ValidationError aggregates request violations in the order the rules ran.
// A nil *ValidationError means the request is valid; a non-nil one always
// holds at least one message.
type ValidationError struct {
	messages []string
}

// AddValidationError appends msg to err, allocating err on the first
// violation. Rules chain it:
//
//	var err *ValidationError
//	if id == "" {
//		err = AddValidationError("id must not be empty", err)
//	}
//	return err
func AddValidationError(msg string, err *ValidationError) *ValidationError {
	if err == nil {
		err = &ValidationError{}
	}
	err.messages = append(err.messages, msg)
	return err
}

// Messages returns a copy of the collected messages.
func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.messages))
	copy(out, e.messages)
	return out
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("Validation Failed: ")
	for i, msg := range e.messages {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(": ")
		b.WriteString(msg)
		b.WriteString(";")
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) FailureKind() string {
	return failure.KindValidation
}

// DiscriminantChecker is implemented by requests whose enumerated fields
// can be assigned without going through a parsing constructor. A failed
// check is returned as *UnknownDiscriminantError.
type DiscriminantChecker interface {
	CheckDiscriminants() error
}

// Validate checks req's discriminants, then runs its rules. A nil
// *ValidationError becomes a nil error, so callers never hold a typed nil.
func Validate(req Request) error {
	if c, ok := req.(DiscriminantChecker); ok {
		if err := c.CheckDiscriminants(); err != nil {
			return err
		}
	}
	if verr := req.Validate(); verr != nil {
		return verr
	}
	return nil
}
