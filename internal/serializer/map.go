package serializer

import (
	"bytes"
	"encoding/json"
)

// Field is a single entry of an ordered mapping.
type Field struct {
	Key   string
	Value any
}

// Map is an ordered mapping from field name to structural value. Insertion order is
// preserved by both the XML serializer and MarshalJSON, so the JSON and XML renderings
// of one payload list fields in the same order.
type Map []Field

// NewMap returns an empty Map with room for n fields.
func NewMap(n int) Map {
	return make(Map, 0, n)
}

// Set assigns value to key, replacing an existing entry in place or appending a new one.
func (m *Map) Set(key string, value any) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (m Map) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field names in order.
func (m Map) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

// MarshalJSON encodes the map as a JSON object, keeping field order.
func (m Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
