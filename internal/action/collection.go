package action

import (
	"fmt"

	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// WriteVersionedCollection writes items as a collection when the writer's
// version supports f, and as a single legacy value (the first item)
// otherwise. An empty collection cannot take the legacy shape and fails.
func WriteVersionedCollection[T any](w *stream.Writer, f version.Feature, items []T, fn func(*stream.Writer, T) error) error {
	if w.Version().Supports(f) {
		return stream.WriteCollection(w, items, fn)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: %s needs %s, negotiated %s", ErrEmptyLegacyCollection, f.Name, f.Since, w.Version())
	}
	return fn(w, items[0])
}

// ReadVersionedCollection mirrors WriteVersionedCollection: a legacy
// single value is wrapped into a one-element collection.
func ReadVersionedCollection[T any](r *stream.Reader, f version.Feature, fn func(*stream.Reader) (T, error)) ([]T, error) {
	if r.Version().Supports(f) {
		return stream.ReadCollection(r, fn)
	}
	item, err := fn(r)
	if err != nil {
		return nil, err
	}
	return []T{item}, nil
}
