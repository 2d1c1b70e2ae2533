package failure

import (
	"fmt"

	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// ErrCauseTooDeep is returned when a cause chain exceeds MaxCauseDepth.
var ErrCauseTooDeep = fmt.Errorf("%w: failure cause chain too deep", stream.ErrDecode)

// Write encodes f at the writer's version. Wire order: kind, message,
// status, then cause (CauseChain) and metadata (Metadata) when negotiated.
// A status outside the HTTP range is sent as 500.
func Write(w *stream.Writer, f *Failure) error {
	return write(w, f, 0)
}

func write(w *stream.Writer, f *Failure, depth int) error {
	if depth > MaxCauseDepth {
		return fmt.Errorf("failure: cause chain deeper than %d", MaxCauseDepth)
	}
	kind, message := wireKind(f, w.Version())
	w.WriteString(kind)
	if message == "" {
		w.WriteOptionalString(nil)
	} else {
		w.WriteOptionalString(&message)
	}
	w.WriteVInt(uint32(normalizeStatus(f.Status)))

	if w.Version().Supports(version.CauseChain) {
		if f.Cause == nil {
			w.WriteBool(false)
		} else {
			w.WriteBool(true)
			if err := write(w, f.Cause, depth+1); err != nil {
				return err
			}
		}
	}
	if w.Version().Supports(version.Metadata) {
		w.WriteStringSliceMap(f.Metadata)
	}
	return nil
}

// wireKind picks the tag the receiver can understand. Kinds newer than the
// negotiated version collapse to the generic kind with the original name
// kept in the message.
func wireKind(f *Failure, v version.Version) (string, string) {
	kind := f.Kind
	if f.OriginalKind != "" {
		kind = f.OriginalKind
	}
	k, known := Lookup(kind)
	if known && v.Before(k.Since) {
		if f.Message == "" {
			return KindGeneric, "[" + kind + "]"
		}
		return KindGeneric, "[" + kind + "] " + f.Message
	}
	return kind, f.Message
}

// Read decodes a failure at the reader's version. An unknown kind yields a
// generic failure carrying the original message.
func Read(r *stream.Reader) (*Failure, error) {
	return read(r, 0)
}

func read(r *stream.Reader, depth int) (*Failure, error) {
	if depth > MaxCauseDepth {
		return nil, ErrCauseTooDeep
	}
	tag, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	message, err := r.ReadOptionalString()
	if err != nil {
		return nil, err
	}
	status, err := r.ReadVInt()
	if err != nil {
		return nil, err
	}

	f := &Failure{Kind: tag, Status: normalizeStatus(int(status))}
	if message != nil {
		f.Message = *message
	}
	if _, ok := Lookup(tag); !ok {
		f.Kind = KindGeneric
		f.OriginalKind = tag
	}

	if r.Version().Supports(version.CauseChain) {
		hasCause, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		if hasCause {
			cause, err := read(r, depth+1)
			if err != nil {
				return nil, err
			}
			f.Cause = cause
		}
	}
	if r.Version().Supports(version.Metadata) {
		meta, err := r.ReadStringSliceMap()
		if err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			f.Metadata = meta
		}
	}
	return f, nil
}
