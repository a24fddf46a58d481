package store

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	NullKind ValueKind = iota
	StringKind
	IntKind
	FloatKind
	BoolKind
	BytesKind
	ListKind
	MapKind
)

func (k ValueKind) String() string {
	switch k {
	case NullKind:
		return "null"
	case StringKind:
		return "string"
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case BoolKind:
		return "bool"
	case BytesKind:
		return "bytes"
	case ListKind:
		return "list"
	case MapKind:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a dynamically-typed document field value.
// The zero Value is Null.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	bs   []byte
	list []Value
	m    *Document
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: StringKind, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: IntKind, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: FloatKind, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: BoolKind, b: b} }

// Bytes returns a binary value.
func Bytes(b []byte) Value { return Value{kind: BytesKind, bs: b} }

// List returns a list value holding vs.
func List(vs ...Value) Value { return Value{kind: ListKind, list: vs} }

// Map returns a nested map value. A nil document is stored as an empty map.
func Map(d *Document) Value {
	if d == nil {
		d = NewDocument()
	}
	return Value{kind: MapKind, m: d}
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == NullKind }

func (v Value) AsString() (string, bool) { return v.s, v.kind == StringKind }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == IntKind }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == FloatKind }
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == BoolKind }
func (v Value) AsBytes() ([]byte, bool)  { return v.bs, v.kind == BytesKind }
func (v Value) AsList() ([]Value, bool)  { return v.list, v.kind == ListKind }
func (v Value) AsMap() (*Document, bool) { return v.m, v.kind == MapKind }

// isEmpty reports whether v carries no usable key or revision material.
func (v Value) isEmpty() bool {
	switch v.kind {
	case NullKind:
		return true
	case StringKind:
		return v.s == ""
	case BytesKind:
		return len(v.bs) == 0
	}
	return false
}

// Equal reports deep equality. Int and Float values compare numerically.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		if isNumber(v) && isNumber(o) {
			return v.number() == o.number()
		}
		return false
	}
	switch v.kind {
	case NullKind:
		return true
	case StringKind:
		return v.s == o.s
	case IntKind:
		return v.i == o.i
	case FloatKind:
		return v.f == o.f
	case BoolKind:
		return v.b == o.b
	case BytesKind:
		return bytes.Equal(v.bs, o.bs)
	case ListKind:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case MapKind:
		return v.m.Equal(o.m)
	}
	return false
}

func isNumber(v Value) bool { return v.kind == IntKind || v.kind == FloatKind }

func (v Value) number() float64 {
	if v.kind == IntKind {
		return float64(v.i)
	}
	return v.f
}

// Interface converts v to plain Go values (nil, string, int64, float64,
// bool, []byte, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case StringKind:
		return v.s
	case IntKind:
		return v.i
	case FloatKind:
		return v.f
	case BoolKind:
		return v.b
	case BytesKind:
		return v.bs
	case ListKind:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case MapKind:
		return v.m.Map()
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case NullKind:
		return "null"
	case StringKind:
		return strconv.Quote(v.s)
	case IntKind:
		return strconv.FormatInt(v.i, 10)
	case FloatKind:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case BoolKind:
		return strconv.FormatBool(v.b)
	case BytesKind:
		return fmt.Sprintf("%x", v.bs)
	case ListKind:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case MapKind:
		parts := make([]string, 0, v.m.Len())
		for _, f := range v.m.Fields() {
			fv, _ := v.m.Get(f)
			parts = append(parts, f+": "+fv.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}
