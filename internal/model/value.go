package model

import (
	"encoding/json"
	"fmt"
)

// Kind enumerates the JSON shapes a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

// Value is a generic tagged representation of the free-form nested payload
// carried in an entry's details and context fields. It admits any JSON
// shape, including explicit nulls at arbitrary depth, and always renders
// back to valid JSON. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	seq  []Value
	mem  map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a numeric scalar.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string scalar.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Sequence wraps an ordered list of values.
func Sequence(vs ...Value) Value { return Value{kind: KindSequence, seq: vs} }

// Mapping wraps a key/value object. The map is used as-is, not copied.
func Mapping(m map[string]Value) Value { return Value{kind: KindMapping, mem: m} }

// EmptyMapping returns a mapping with no keys.
func EmptyMapping() Value { return Value{kind: KindMapping} }

// NormalizeMapping coerces v into mapping shape: nulls, scalars and
// sequences at the top level all become an empty mapping. Nested values
// inside an existing mapping are left untouched.
func NormalizeMapping(v Value) Value {
	if v.kind != KindMapping {
		return EmptyMapping()
	}
	return v
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// Len reports the element count of a sequence or mapping, and 0 for
// every scalar shape.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.mem)
	}
	return 0
}

// Get returns the mapping element for key. The second result is false when
// v is not a mapping or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	e, ok := v.mem[key]
	return e, ok
}

// Index returns the i-th sequence element, or null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindSequence || i < 0 || i >= len(v.seq) {
		return Value{}
	}
	return v.seq[i]
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.mem) != len(o.mem) {
			return false
		}
		for k, ve := range v.mem {
			oe, ok := o.mem[k]
			if !ok || !ve.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON renders the value as JSON. Mappings marshal with sorted keys,
// so equal values always produce identical bytes.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindSequence:
		if v.seq == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.seq)
	case KindMapping:
		if v.mem == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.mem)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON parses any JSON shape into the tagged form.
func (v *Value) UnmarshalJSON(data []byte) error {
	i := 0
	for i < len(data) && isJSONSpace(data[i]) {
		i++
	}
	if i >= len(data) {
		return fmt.Errorf("empty value")
	}

	switch data[i] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var seq []Value
		if err := json.Unmarshal(data, &seq); err != nil {
			return err
		}
		if seq == nil {
			seq = []Value{}
		}
		*v = Value{kind: KindSequence, seq: seq}
		return nil
	case '{':
		var mem map[string]Value
		if err := json.Unmarshal(data, &mem); err != nil {
			return err
		}
		*v = Value{kind: KindMapping, mem: mem}
		return nil
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
		return nil
	}
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
