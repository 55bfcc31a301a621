package appointment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindMap
)

// Value is one kiosk metadata value: a string, number, bool, null or a
// nested map. Lists are not representable.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	m    Metadata
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Map(m Metadata) Value { return Value{kind: KindMap, m: m} }
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsMap() (Metadata, bool) {
	return v.m, v.kind == KindMap
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]Value(v.m))
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := valueFrom(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func valueFrom(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case map[string]any:
		m := make(Metadata, len(t))
		for k, inner := range t {
			v, err := valueFrom(inner)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value of type %T", raw)
	}
}

// Metadata is a free-form attachment keyed by string.
type Metadata map[string]Value

// Merge returns a new map holding m overlaid with next. Only top-level keys
// are merged; a nested map in next replaces the old one wholesale.
func (m Metadata) Merge(next Metadata) Metadata {
	out := make(Metadata, len(m)+len(next))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}
