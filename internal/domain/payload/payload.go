// Package payload models point metadata as a typed mapping over a closed set of value kinds.
package payload

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the value kinds a payload field can hold.
type Kind uint8

// Value kinds. The zero Value is null.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single payload field value.
type Value struct {
	kind Kind
	str  string
	num  float64
	flag bool
	obj  Map
	list []Value
}

// Map is a payload: field name to value.
type Map map[string]Value

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a number.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Int wraps an integer as a number.
func Int(n int64) Value { return Value{kind: KindNumber, num: float64(n)} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Object wraps a nested map.
func Object(m Map) Value { return Value{kind: KindMap, obj: m} }

// List wraps a sequence of values.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string and true when v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number and true when v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean and true when v is a bool.
func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// AsMap returns the nested map and true when v is a map.
func (v Value) AsMap() (Map, bool) { return v.obj, v.kind == KindMap }

// AsList returns the elements and true when v is a list.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsInt64 returns v as an integer when it is an integral number or a
// string holding a base-10 integer.
func (v Value) AsInt64() (int64, bool) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) || v.num != math.Trunc(v.num) {
			return 0, false
		}
		if v.num > math.MaxInt64 || v.num < math.MinInt64 {
			return 0, false
		}
		return int64(v.num), true
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Text renders v for display. Nulls render empty, maps and lists as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindMap, KindList:
		b, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.flag == o.flag
	case KindMap:
		return v.obj.Equal(o.obj)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Lookup walks nested maps along path.
func (m Map) Lookup(path ...string) (Value, bool) {
	cur := m
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return Value{}, false
		}
		if i == len(path)-1 {
			return v, true
		}
		next, ok := v.AsMap()
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return Value{}, false
}

// Text returns the display text of the field at path, or "" when absent.
func (m Map) Text(path ...string) string {
	v, ok := m.Lookup(path...)
	if !ok {
		return ""
	}
	return v.Text()
}

// Keys returns the field names in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality of two maps.
func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.kind {
	case KindMap:
		return Object(v.obj.Clone())
	case KindList:
		l := make([]Value, len(v.list))
		for i, e := range v.list {
			l[i] = e.clone()
		}
		return List(l...)
	default:
		return v
	}
}

// EntityID resolves the integer entity id stored under field.
func (m Map) EntityID(field string) (int64, bool) {
	v, ok := m[field]
	if !ok {
		return 0, false
	}
	return v.AsInt64()
}
