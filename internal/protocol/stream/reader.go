package stream

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/danmuck/actionrpc/internal/protocol/version"
)

const (
	maxVIntBytes  = 5
	maxVLongBytes = 10
)

// Reader is a sequential input cursor over a byte slice. Every read fails
// with an error wrapping ErrDecode when the data runs out.
type Reader struct {
	data    []byte
	offset  int
	version version.Version
}

// NewReader wraps data for decoding at v.
func NewReader(data []byte, v version.Version) *Reader {
	return &Reader{data: data, version: v}
}

// Version returns the version the payload was encoded at.
func (r *Reader) Version() version.Version {
	return r.version
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.offset
}

// EnsureFullyRead fails when bytes are left after a complete message.
func (r *Reader) EnsureFullyRead() error {
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrNotFullyRead, n)
	}
	return nil
}

func (r *Reader) need(n int) (int, error) {
	if n < 0 || n > r.Remaining() {
		return 0, ErrTruncated
	}
	off := r.offset
	r.offset += n
	return off, nil
}

func (r *Reader) ReadByte() (byte, error) {
	off, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return r.data[off], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b)
	}
}

func (r *Reader) ReadInt() (int32, error) {
	off, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(r.data[off:])), nil
}

func (r *Reader) ReadLong() (int64, error) {
	off, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(r.data[off:])), nil
}

func (r *Reader) ReadVInt() (uint32, error) {
	var v uint32
	for i := 0; i < maxVIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == maxVIntBytes-1 && b > 0x0f {
			return 0, ErrVarintOverflow
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrVarintOverflow
}

func (r *Reader) ReadVLong() (uint64, error) {
	var v uint64
	for i := 0; i < maxVLongBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == maxVLongBytes-1 && b > 0x01 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrVarintOverflow
}

func (r *Reader) ReadZLong() (int64, error) {
	u, err := r.ReadVLong()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// ReadCount reads a collection or byte length and checks it against the
// unread bytes, so a corrupt count cannot force a large allocation.
func (r *Reader) ReadCount() (int, error) {
	n, err := r.ReadVInt()
	if err != nil {
		return 0, err
	}
	if uint64(n) > uint64(r.Remaining()) {
		return 0, fmt.Errorf("%w: count %d exceeds %d remaining bytes", ErrInvalidLength, n, r.Remaining())
	}
	return int(n), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadCount()
	if err != nil {
		return "", err
	}
	off, err := r.need(n)
	if err != nil {
		return "", err
	}
	s := string(r.data[off : off+n])
	if !utf8.ValidString(s) {
		return "", ErrInvalidString
	}
	return s, nil
}

func (r *Reader) ReadOptionalString() (*string, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadByteArray returns a copy of a length-prefixed byte slice.
func (r *Reader) ReadByteArray() ([]byte, error) {
	n, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	off, err := r.need(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[off:off+n])
	return out, nil
}

func (r *Reader) ReadStringSlice() ([]string, error) {
	return ReadCollection(r, (*Reader).ReadString)
}

func (r *Reader) ReadStringMap() (map[string]string, error) {
	n, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *Reader) ReadStringSliceMap() (map[string][]string, error) {
	n, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadStringSlice()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *Reader) ReadDuration() (time.Duration, error) {
	v, err := r.ReadZLong()
	if err != nil {
		return 0, err
	}
	return time.Duration(v), nil
}

// ReadOptional reads a presence flag, then a value through fn if present.
func ReadOptional[T any](r *Reader, fn func(*Reader) (T, error)) (*T, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := fn(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadCollection reads a count followed by that many elements through fn.
// Every element must occupy at least one byte.
func ReadCollection[T any](r *Reader, fn func(*Reader) (T, error)) ([]T, error) {
	n, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := fn(r)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
