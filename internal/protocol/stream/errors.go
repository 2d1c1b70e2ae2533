package stream

import (
	"errors"
	"fmt"
)

// ErrDecode is the class of every read failure in this package.
var ErrDecode = errors.New("stream: decode failed")

var (
	ErrTruncated      = fmt.Errorf("%w: truncated data", ErrDecode)
	ErrInvalidLength  = fmt.Errorf("%w: invalid length", ErrDecode)
	ErrVarintOverflow = fmt.Errorf("%w: varint overflow", ErrDecode)
	ErrInvalidBool    = fmt.Errorf("%w: invalid bool value", ErrDecode)
	ErrInvalidString  = fmt.Errorf("%w: invalid utf-8 string", ErrDecode)
	ErrNotFullyRead   = fmt.Errorf("%w: message not fully read", ErrDecode)
)
