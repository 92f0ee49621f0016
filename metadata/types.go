package metadata

import (
	"fmt"
	"math"
	"strconv"
	"unique"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
)

// Value is a small typed scalar used for metadata documents.
//
// The representation is designed to make matching fast and predictable:
// no reflection and no fmt-based stringification.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind
	I64  int64
	F64  float64
	B    bool
	s    unique.Handle[string] // interned, valid only for KindString
}

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, s: unique.Make(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// AsInt64 returns the int64 value if Kind is KindInt.
func (v Value) AsInt64() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I64, true
}

// AsFloat64 returns the float64 value if Kind is KindFloat.
func (v Value) AsFloat64() (float64, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F64, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.s.Value(), true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// Equal compares two values for strict equality (kind and payload).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.I64 == o.I64
	case KindFloat:
		return v.F64 == o.F64
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.B == o.B
	default:
		return false
	}
}

// Key returns a stable string representation for use in maps and
// aggregation keys. It must remain stable across versions because
// persisted metadata round-trips through it in tests.
func (v Value) Key() string {
	switch v.Kind {
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.s.Value()
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	default:
		return "invalid"
	}
}

// String implements fmt.Stringer for debugging output.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.s.Value()
	case KindBool:
		return strconv.FormatBool(v.B)
	default:
		return "<invalid>"
	}
}

// Document is a typed metadata document: a flat map of scalar tags.
type Document map[string]Value

// Clone creates a deep copy of the metadata document.
//
// This is the safe default to prevent external mutation after Insert().
// Values have value semantics, so a shallow map copy is a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// CloneIfNeeded clones a document only if it is non-nil and non-empty.
// Returns nil for nil or empty input, avoiding allocation for the common
// case of records without tags.
func CloneIfNeeded(d Document) Document {
	if len(d) == 0 {
		return nil
	}
	return d.Clone()
}

// FromMap converts a legacy map[string]any document into a typed Document.
// Supported scalar types: string, bool, int, int64, float64, float32.
func FromMap(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	doc := make(Document, len(m))
	for k, raw := range m {
		switch v := raw.(type) {
		case string:
			doc[k] = String(v)
		case bool:
			doc[k] = Bool(v)
		case int:
			doc[k] = Int(int64(v))
		case int64:
			doc[k] = Int(v)
		case float32:
			doc[k] = Float(float64(v))
		case float64:
			doc[k] = Float(v)
		default:
			return nil, fmt.Errorf("metadata: unsupported value type %T for key %q", raw, k)
		}
	}
	return doc, nil
}

// ToMap converts a typed Document back to a map[string]any.
func (d Document) ToMap() map[string]any {
	if d == nil {
		return nil
	}
	m := make(map[string]any, len(d))
	for k, v := range d {
		switch v.Kind {
		case KindInt:
			m[k] = v.I64
		case KindFloat:
			m[k] = v.F64
		case KindString:
			m[k] = v.s.Value()
		case KindBool:
			m[k] = v.B
		}
	}
	return m
}
