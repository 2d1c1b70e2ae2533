package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("document: CBOR encoder initialization failed: " + err.Error())
	}
}

// RenderJSON writes o as JSON with field order preserved.
func RenderJSON(o *Object, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, o); err != nil {
		return nil, err
	}
	if !pretty {
		return buf.Bytes(), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	switch t := normalize(v).(type) {
	case *Object:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, f := range t.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, f.value); err != nil {
				return fmt.Errorf("field %q: %w", f.key, err)
			}
		}
		buf.WriteByte('}')
	case Array:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(raw)
	}
	return nil
}

// RenderYAML writes o as a YAML mapping with field order preserved.
func RenderYAML(o *Object) ([]byte, error) {
	node, err := yamlNode(o)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(node)
}

func yamlNode(v any) (*yaml.Node, error) {
	switch t := normalize(v).(type) {
	case *Object:
		if t == nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
		}
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, f := range t.fields {
			value, err := yamlNode(f.value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.key, err)
			}
			key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.key}
			node.Content = append(node.Content, key, value)
		}
		return node, nil
	case Array:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			child, err := yamlNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(t); err != nil {
			return nil, err
		}
		return node, nil
	}
}

// RenderCBOR writes o as CBOR using Core Deterministic Encoding. CBOR maps
// are emitted with sorted keys, so field order is not preserved.
func RenderCBOR(o *Object) ([]byte, error) {
	return cborMode.Marshal(plain(o))
}

// plain converts a document tree to maps and slices.
func plain(v any) any {
	switch t := normalize(v).(type) {
	case *Object:
		if t == nil {
			return nil
		}
		out := make(map[string]any, len(t.fields))
		for _, f := range t.fields {
			out[f.key] = plain(f.value)
		}
		return out
	case Array:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	default:
		return t
	}
}
