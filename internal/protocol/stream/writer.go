// Package stream owns the sequential binary cursor used by every action
// payload.
//
// Fields are written and read in declared order only; there is no schema on
// the wire. Each Writer and Reader carries the version negotiated for the
// call so that field-level gates never consult global state.
package stream

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// Writer is a growable, append-only output cursor.
// Fixed-width integers are big-endian.
type Writer struct {
	data    []byte
	version version.Version
}

// NewWriter returns an empty Writer bound to v.
func NewWriter(v version.Version) *Writer {
	return &Writer{data: make([]byte, 0, 64), version: v}
}

// Version returns the version the payload is being encoded at.
func (w *Writer) Version() version.Version {
	return w.version
}

// Bytes returns the accumulated bytes. The slice aliases the Writer.
func (w *Writer) Bytes() []byte {
	return w.data
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.data)
}

// Reset clears the buffer for reuse at the same version.
func (w *Writer) Reset() {
	w.data = w.data[:0]
}

func (w *Writer) WriteByte(b byte) error {
	w.data = append(w.data, b)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.data = append(w.data, 1)
		return
	}
	w.data = append(w.data, 0)
}

// WriteInt writes a fixed 4-byte integer.
func (w *Writer) WriteInt(v int32) {
	w.data = binary.BigEndian.AppendUint32(w.data, uint32(v))
}

// WriteLong writes a fixed 8-byte integer.
func (w *Writer) WriteLong(v int64) {
	w.data = binary.BigEndian.AppendUint64(w.data, uint64(v))
}

// WriteVInt writes v in 7-bit groups, low group first (1 to 5 bytes).
func (w *Writer) WriteVInt(v uint32) {
	for v&^0x7f != 0 {
		w.data = append(w.data, byte(v&0x7f)|0x80)
		v >>= 7
	}
	w.data = append(w.data, byte(v))
}

// WriteVLong writes v in 7-bit groups, low group first (1 to 10 bytes).
func (w *Writer) WriteVLong(v uint64) {
	for v&^0x7f != 0 {
		w.data = append(w.data, byte(v&0x7f)|0x80)
		v >>= 7
	}
	w.data = append(w.data, byte(v))
}

// WriteZLong writes a signed value using zig-zag encoding.
func (w *Writer) WriteZLong(v int64) {
	w.WriteVLong(uint64((v << 1) ^ (v >> 63)))
}

// WriteString writes the UTF-8 byte length followed by the bytes.
func (w *Writer) WriteString(s string) {
	w.WriteVInt(uint32(len(s)))
	w.data = append(w.data, s...)
}

// WriteOptionalString writes a presence flag, then the string if present.
func (w *Writer) WriteOptionalString(s *string) {
	if s == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteString(*s)
}

func (w *Writer) WriteByteArray(b []byte) {
	w.WriteVInt(uint32(len(b)))
	w.data = append(w.data, b...)
}

func (w *Writer) WriteStringSlice(items []string) {
	w.WriteVInt(uint32(len(items)))
	for _, s := range items {
		w.WriteString(s)
	}
}

// WriteStringMap writes entries sorted by key so equal maps encode equally.
func (w *Writer) WriteStringMap(m map[string]string) {
	keys := sortedKeys(m)
	w.WriteVInt(uint32(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteString(m[k])
	}
}

// WriteStringSliceMap writes entries sorted by key.
func (w *Writer) WriteStringSliceMap(m map[string][]string) {
	keys := sortedKeys(m)
	w.WriteVInt(uint32(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteStringSlice(m[k])
	}
}

// WriteDuration writes d as zig-zag nanoseconds.
func (w *Writer) WriteDuration(d time.Duration) {
	w.WriteZLong(int64(d))
}

// WriteOptional writes a presence flag, then v through fn if non-nil.
func WriteOptional[T any](w *Writer, v *T, fn func(*Writer, T) error) error {
	if v == nil {
		w.WriteBool(false)
		return nil
	}
	w.WriteBool(true)
	return fn(w, *v)
}

// WriteCollection writes a count followed by each element through fn.
func WriteCollection[T any](w *Writer, items []T, fn func(*Writer, T) error) error {
	w.WriteVInt(uint32(len(items)))
	for _, item := range items {
		if err := fn(w, item); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
