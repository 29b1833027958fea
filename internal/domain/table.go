package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Entry is one key/value row of a Table.
type Entry[V any] struct {
	Key   string
	Value V
}

// Table is a document object whose key order is significant.
// Lookups over rate tables are first-match-wins in declared order, so the
// order of the source JSON object or YAML mapping is kept as written.
type Table[V any] []Entry[V]

// Get returns the value stored under an exact key.
func (t Table[V]) Get(key string) (V, bool) {
	for _, e := range t {
		if e.Key == key {
			return e.Value, true
		}
	}
	var zero V
	return zero, false
}

// Keys returns the keys in declared order.
func (t Table[V]) Keys() []string {
	keys := make([]string, len(t))
	for i, e := range t {
		keys[i] = e.Key
	}
	return keys
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (t *Table[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*t = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("table: expected object, got %v", tok)
	}

	var out Table[V]
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("table: expected string key, got %v", kt)
		}

		var v V
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("table: key %q: %w", key, err)
		}
		out = append(out, Entry[V]{Key: key, Value: v})
	}

	// Closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}

	*t = out
	return nil
}

// MarshalJSON encodes the table as a JSON object in declared order.
func (t Table[V]) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("table: key %q: %w", e.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping preserving key order.
func (t *Table[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*t = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("table: line %d: expected mapping", node.Line)
	}

	out := make(Table[V], 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("table: key %q: %w", key, err)
		}
		out = append(out, Entry[V]{Key: key, Value: v})
	}

	*t = out
	return nil
}

// MarshalYAML encodes the table as a YAML mapping in declared order.
func (t Table[V]) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range t {
		var vn yaml.Node
		if err := vn.Encode(e.Value); err != nil {
			return nil, fmt.Errorf("table: key %q: %w", e.Key, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key},
			&vn,
		)
	}
	return node, nil
}
