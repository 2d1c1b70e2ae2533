// Package document builds ordered, tree-structured documents for external
// output, independent of the binary wire form.
package document

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupportedFormat = errors.New("document: unsupported format")

// Documenter is implemented by values that expose structured output.
type Documenter interface {
	ToDocument() *Object
}

// Array is an ordered list of document values.
type Array []any

type field struct {
	key   string
	value any
}

// Object is an object with fields kept in insertion order. Setting an
// existing key replaces its value in place.
type Object struct {
	fields []field
}

func NewObject() *Object {
	return &Object{}
}

// Field sets key to v and returns o for chaining.
func (o *Object) Field(key string, v any) *Object {
	for i := range o.fields {
		if o.fields[i].key == key {
			o.fields[i].value = v
			return o
		}
	}
	o.fields = append(o.fields, field{key: key, value: v})
	return o
}

// FieldIf sets key only when cond holds.
func (o *Object) FieldIf(cond bool, key string, v any) *Object {
	if cond {
		o.Field(key, v)
	}
	return o
}

// Object starts a nested object under key and returns it.
func (o *Object) Object(key string) *Object {
	child := NewObject()
	o.Field(key, child)
	return child
}

func (o *Object) Get(key string) (any, bool) {
	for _, f := range o.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

func (o *Object) Keys() []string {
	keys := make([]string, len(o.fields))
	for i, f := range o.fields {
		keys[i] = f.key
	}
	return keys
}

func (o *Object) Len() int {
	return len(o.fields)
}

// Format selects a document renderer.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

// ParseFormat maps a user-supplied format name; empty selects JSON.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ContentType returns the media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatCBOR:
		return "application/cbor"
	default:
		return "application/json"
	}
}

// Render encodes o in format f.
func Render(o *Object, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return RenderJSON(o, false)
	case FormatYAML:
		return RenderYAML(o)
	case FormatCBOR:
		return RenderCBOR(o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// normalize expands Documenter values and common Go collections into
// Object/Array so every renderer walks one shape.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *Object:
		return t
	case Documenter:
		return t.ToDocument()
	case Array:
		return t
	case []any:
		return Array(t)
	case []string:
		out := make(Array, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case map[string]string:
		obj := NewObject()
		for _, k := range sortedKeys(t) {
			obj.Field(k, t[k])
		}
		return obj
	case map[string][]string:
		obj := NewObject()
		for _, k := range sortedKeys(t) {
			obj.Field(k, t[k])
		}
		return obj
	case map[string]any:
		obj := NewObject()
		for _, k := range sortedKeys(t) {
			obj.Field(k, t[k])
		}
		return obj
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
