package rete

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which alternative of the Value sum type is populated.
//
// The engine's values are a closed set of ground, structurally
// comparable datums, per the Design Notes' "duck-typed equality of
// values" guidance: rather than accepting arbitrary interface{} and
// falling back to reflect.DeepEqual everywhere, Value is a small sum
// type with its own Equal and canonical-key methods.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTuple
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTuple:
		return "tuple"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is any hashable ground datum a fact attribute can hold: a
// boolean, an integer, a float, a string, a tuple of values, or a
// nested mapping of values. Equality is always structural (Equal),
// never Go's ==, since Value embeds slices and maps internally.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	tuple []Value
	m     map[string]Value
}

// Nil is the absence of a value.
var Nil = Value{kind: KindNil}

// NewBool wraps a boolean as a Value.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewInt wraps an integer as a Value.
func NewInt(i int64) Value { return Value{kind: KindInt, i: i} }

// NewFloat wraps a float as a Value.
func NewFloat(f float64) Value { return Value{kind: KindFloat, f: f} }

// NewString wraps a string as a Value.
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewTuple wraps an ordered sequence of values as a Value.
func NewTuple(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindTuple, tuple: cp}
}

// NewMap wraps a name-to-value mapping as a Value. Map values are
// never exploded into separate WMEs (spec §3); they exist so that
// path expressions (spec §4.1) have something to navigate into.
func NewMap(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Of converts a plain Go value into a Value, for authoring
// convenience (mirrors the teacher's "doesn't place restrictions on
// the contents" stance on constants). Unrecognized types panic, since
// this is a compile-time authoring helper, not a runtime decode path.
func Of(x interface{}) Value {
	switch v := x.(type) {
	case nil:
		return Nil
	case Value:
		return v
	case bool:
		return NewBool(v)
	case int:
		return NewInt(int64(v))
	case int64:
		return NewInt(v)
	case float64:
		return NewFloat(v)
	case string:
		return NewString(v)
	case []Value:
		return NewTuple(v...)
	case map[string]Value:
		return NewMap(v)
	case []interface{}:
		vs := make([]Value, len(v))
		for i, e := range v {
			vs[i] = Of(e)
		}
		return NewTuple(vs...)
	case map[string]interface{}:
		m := make(map[string]Value, len(v))
		for k, e := range v {
			m[k] = Of(e)
		}
		return NewMap(m)
	default:
		panic(fmt.Sprintf("rete: value of unsupported type %T", x))
	}
}

// Kind reports which alternative is populated.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload and whether v holds a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the integer payload and whether v holds an int.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Float returns the float payload and whether v holds a float.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// String returns a human-readable rendering of v; it always succeeds,
// unlike the accessor methods above.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindTuple:
		parts := make([]string, len(v.tuple))
		for i, e := range v.tuple {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.m[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<invalid value>"
	}
}

// Str returns the string payload and whether v holds a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Tuple returns the tuple payload and whether v holds a tuple.
func (v Value) Tuple() ([]Value, bool) {
	if v.kind != KindTuple {
		return nil, false
	}
	cp := make([]Value, len(v.tuple))
	copy(cp, v.tuple)
	return cp, true
}

// Map returns the mapping payload and whether v holds a map.
func (v Value) Map() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	cp := make(map[string]Value, len(v.m))
	for k, e := range v.m {
		cp[k] = e
	}
	return cp, true
}

// Index looks up key within a KindMap value, reporting ok=false if v
// is not a map or the key is absent. This is the single-step building
// block for path-expression navigation (spec §4.1).
func (v Value) Index(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	sub, ok := v.m[key]
	return sub, ok
}

// Equal reports whether v and other are structurally identical.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindTuple:
		if len(v.tuple) != len(other.tuple) {
			return false
		}
		for i := range v.tuple {
			if !v.tuple[i].Equal(other.tuple[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, e := range v.m {
			oe, ok := other.m[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// key returns a canonical, collision-free string encoding of v,
// suitable for use as a Go map key (e.g. UpdateFact's WME diff keys,
// alpha-test keys in DotGraph labels). It is not meant to be human-readable;
// use String for that.
func (v Value) key() string {
	switch v.kind {
	case KindNil:
		return "n"
	case KindBool:
		if v.b {
			return "b1"
		}
		return "b0"
	case KindInt:
		return "i" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "f" + strconv.FormatFloat(v.f, 'b', -1, 64)
	case KindString:
		return "s" + strconv.Itoa(len(v.s)) + ":" + v.s
	case KindTuple:
		var sb strings.Builder
		sb.WriteString("t")
		sb.WriteString(strconv.Itoa(len(v.tuple)))
		for _, e := range v.tuple {
			sb.WriteByte(',')
			sb.WriteString(e.key())
		}
		return sb.String()
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("m")
		sb.WriteString(strconv.Itoa(len(keys)))
		for _, k := range keys {
			sb.WriteByte(',')
			sb.WriteString(strconv.Itoa(len(k)))
			sb.WriteByte(':')
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v.m[k].key())
		}
		return sb.String()
	default:
		return "?"
	}
}

// navigate walks a chain of map-index steps starting from v, as
// required to evaluate a path expression's remaining segments
// (spec §4.1). ok is false if any intermediate value is not a map or
// any segment is missing.
func navigate(v Value, segments []string) (Value, bool) {
	cur := v
	for _, seg := range segments {
		sub, ok := cur.Index(seg)
		if !ok {
			return Value{}, false
		}
		cur = sub
	}
	return cur, true
}
