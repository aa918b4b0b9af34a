package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueType tags the variant held by a Value.
type ValueType uint8

const (
	TypeString ValueType = iota + 1
	TypeNumber
	TypeBool
	TypeTime
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return "invalid"
	}
}

// Value is a scalar metadata value. The zero Value is invalid and equals
// nothing, including another zero Value.
type Value struct {
	typ ValueType
	s   string
	n   float64
	b   bool
	t   time.Time
}

func String(s string) Value { return Value{typ: TypeString, s: s} }

func Number(n float64) Value { return Value{typ: TypeNumber, n: n} }

func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

func Time(t time.Time) Value { return Value{typ: TypeTime, t: t} }

// Type returns the variant tag.
func (v Value) Type() ValueType { return v.typ }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// AsNumber returns the number variant.
func (v Value) AsNumber() (float64, bool) { return v.n, v.typ == TypeNumber }

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// AsTime returns the timestamp variant.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.typ == TypeTime }

// Equal reports type-exact equality.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.s == o.s
	case TypeNumber:
		return v.n == o.n
	case TypeBool:
		return v.b == o.b
	case TypeTime:
		return v.t.Equal(o.t)
	}
	return false
}

func (v Value) String() string {
	switch v.typ {
	case TypeString:
		return v.s
	case TypeNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// timeTag keys the one-field object that carries a timestamp in JSON, which
// keeps timestamps distinct from strings that happen to look like one.
const timeTag = "$time"

// MarshalJSON encodes timestamps as {"$time": "<RFC 3339>"}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeString:
		return json.Marshal(v.s)
	case TypeNumber:
		return json.Marshal(v.n)
	case TypeBool:
		return json.Marshal(v.b)
	case TypeTime:
		return json.Marshal(map[string]string{timeTag: v.t.UTC().Format(time.RFC3339Nano)})
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts JSON strings, numbers, booleans and tagged
// timestamps. Plain strings always decode as TypeString.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := valueOf(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func valueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case bool:
		return Bool(x), nil
	case map[string]any:
		s, ok := x[timeTag].(string)
		if !ok || len(x) != 1 {
			return Value{}, fmt.Errorf("nested metadata objects are not supported")
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s value: %w", timeTag, err)
		}
		return Time(t), nil
	}
	return Value{}, fmt.Errorf("unsupported metadata value %T", raw)
}

// Field is one metadata entry.
type Field struct {
	Key   string
	Value Value
}

// Metadata is an insertion-ordered key/value list. Metadata bags are small,
// so lookups are linear.
type Metadata []Field

// Get returns the value stored under key.
func (m Metadata) Get(key string) (Value, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value for an existing key in place or appends a new one.
func (m *Metadata) Set(key string, v Value) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = v
			return
		}
	}
	*m = append(*m, Field{Key: key, Value: v})
}

// Len returns the number of entries.
func (m Metadata) Len() int { return len(m) }

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

// Matches reports whether every entry of want is present in m with an equal
// value.
func (m Metadata) Matches(want Metadata) bool {
	for _, f := range want {
		got, ok := m.Get(f.Key)
		if !ok || !got.Equal(f.Value) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes m as a JSON object preserving entry order.
func (m Metadata) MarshalJSON() ([]byte, error) {
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
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order keys appear in.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata must be a JSON object")
	}
	out := Metadata{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata key must be a string")
		}
		var val Value
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		if val.typ == 0 {
			return fmt.Errorf("metadata %q: null values are not supported", key)
		}
		out.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
