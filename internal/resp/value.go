// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package resp implements the Redis Serialization Protocol: a typed
// value universe shared by the wire codec and the storage engine's
// value-blob codec, an encoder that turns values into RESP bytes, and
// a streaming decoder that turns RESP bytes back into values.
package resp

import "fmt"

// Kind tags the concrete shape a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindOK
	KindBool
	KindError
	KindInt
	KindFloat
	KindBulkString
	KindArray
	KindMap
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindOK:
		return "ok"
	case KindBool:
		return "bool"
	case KindError:
		return "error"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBulkString:
		return "bulkstring"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a Map value. Order is preserved as
// built; callers that need canonical ordering should sort explicitly
// (the entry codec does this for determinism, see internal/entry).
type MapEntry struct {
	Key Value
	Val Value
}

// Value is the tagged sum the RESP codec and the entry codec both
// speak: null | bool | error | int | float | bytes | sequence | map | set.
type Value struct {
	Kind Kind

	Bool  bool
	Int   int64
	Float float64
	Str   []byte // bulk string bytes, or the error reason text

	Array []Value
	Map   []MapEntry
	Set   []Value
}

func Null() Value                { return Value{Kind: KindNull} }
func OK() Value                  { return Value{Kind: KindOK} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Error(reason string) Value  { return Value{Kind: KindError, Str: []byte(reason)} }
func Int(n int64) Value          { return Value{Kind: KindInt, Int: n} }
func Float(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func BulkString(b []byte) Value  { return Value{Kind: KindBulkString, Str: b} }
func BulkStringS(s string) Value { return Value{Kind: KindBulkString, Str: []byte(s)} }
func Array(items []Value) Value  { return Value{Kind: KindArray, Array: items} }
func Map(entries []MapEntry) Value { return Value{Kind: KindMap, Map: entries} }
func Set(items []Value) Value    { return Value{Kind: KindSet, Set: items} }

// IsNull reports whether v represents the absence of a value, whether
// it arrived as a RESP3 null, a RESP2 null bulk string, or a RESP2 null
// array.
func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "<nil>"
	case KindOK:
		return "OK"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindError:
		return "ERR " + string(v.Str)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBulkString:
		return string(v.Str)
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.Array))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.Map))
	case KindSet:
		return fmt.Sprintf("set(%d)", len(v.Set))
	default:
		return "<unknown>"
	}
}
