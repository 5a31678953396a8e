package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Boolean"
	case KindInt:
		return "Integer"
	case KindFloat:
		return "Double"
	case KindString:
		return "String"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	default:
		return "Unknown"
	}
}

// Value is the tagged union carried across the GraphLite boundary and stored
// in property maps. It is a struct, not an interface or `any`, so storage
// encoding and JSON boundary marshaling are deterministic and allocation-cheap
// for the scalar kinds.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value              { return Value{kind: KindNull} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func List(vs []Value) Value    { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) AsBool() bool  { return v.b }
func (v Value) AsInt() int64  { return v.i }
func (v Value) AsFloat() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) AsString() string      { return v.s }
func (v Value) AsList() []Value       { return v.list }
func (v Value) AsMap() map[string]Value { return v.m }

// Equal implements structural equality: two values are equal iff their kinds
// and contents match recursively. Expression comparison (=, <>, IN) uses it;
// set operators and DISTINCT compare SortKey bytes instead.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// Integers and doubles compare numerically equal across kinds,
		// matching GQL's numeric promotion rules.
		if (v.kind == KindInt && o.kind == KindFloat) || (v.kind == KindFloat && o.kind == KindInt) {
			return v.AsFloat() == o.AsFloat()
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
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
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := o.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// SortKey produces a byte string suitable for ORDER BY / group-key encoding;
// comparable lexicographically for a total, deterministic order across kinds.
func (v Value) SortKey() []byte {
	var buf bytes.Buffer
	v.writeSortKey(&buf)
	return buf.Bytes()
}

func (v Value) writeSortKey(buf *bytes.Buffer) {
	buf.WriteByte(byte(v.kind))
	switch v.kind {
	case KindBool:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindInt:
		fmt.Fprintf(buf, "%020d", v.i)
	case KindFloat:
		fmt.Fprintf(buf, "%g", v.f)
	case KindString:
		buf.WriteString(v.s)
	case KindList:
		for _, e := range v.list {
			e.writeSortKey(buf)
			buf.WriteByte(0)
		}
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(k)
			buf.WriteByte(0)
			v.m[k].writeSortKey(buf)
			buf.WriteByte(0)
		}
	}
}

// Less reports whether v sorts before o, ascending, NULL-last.
func Less(v, o Value) bool {
	if v.kind == KindNull {
		return false
	}
	if o.kind == KindNull {
		return true
	}
	if (v.kind == KindInt || v.kind == KindFloat) && (o.kind == KindInt || o.kind == KindFloat) {
		return v.AsFloat() < o.AsFloat()
	}
	return bytes.Compare(v.SortKey(), o.SortKey()) < 0
}

// externally tagged JSON encoding: {"String":"x"},
// {"Integer":3}, etc. This is the one boundary concern left on the standard
// library: no dependency in use offers externally tagged enum JSON without
// code generation, and the shape is small enough to hand-roll.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte(`"Null"`), nil
	case KindBool:
		return json.Marshal(map[string]bool{"Boolean": v.b})
	case KindInt:
		return json.Marshal(map[string]int64{"Integer": v.i})
	case KindFloat:
		return json.Marshal(map[string]float64{"Double": v.f})
	case KindString:
		return json.Marshal(map[string]string{"String": v.s})
	case KindList:
		return json.Marshal(map[string][]Value{"List": v.list})
	case KindMap:
		return json.Marshal(map[string]map[string]Value{"Map": v.m})
	default:
		return nil, fmt.Errorf("types: unknown value kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.Trim(data, `"`), []byte("Null")) {
		*v = Null()
		return nil
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("types: value JSON: %w", err)
	}
	for tag, raw := range tagged {
		switch tag {
		case "Boolean":
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return err
			}
			*v = Bool(b)
		case "Integer":
			var i int64
			if err := json.Unmarshal(raw, &i); err != nil {
				return err
			}
			*v = Int(i)
		case "Double":
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				return err
			}
			*v = Float(f)
		case "String":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*v = String(s)
		case "List":
			var l []Value
			if err := json.Unmarshal(raw, &l); err != nil {
				return err
			}
			*v = List(l)
		case "Map":
			var m map[string]Value
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			*v = Map(m)
		default:
			return fmt.Errorf("types: unknown value tag %q", tag)
		}
		return nil
	}
	return fmt.Errorf("types: empty value tag")
}

// GobEncode/GobDecode delegate to the JSON form so Values survive gob
// transport (sort spill files, WAL-adjacent temp state) despite the
// unexported union fields.
func (v Value) GobEncode() ([]byte, error) {
	return v.MarshalJSON()
}

func (v *Value) GobDecode(data []byte) error {
	return v.UnmarshalJSON(data)
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	default:
		return "?"
	}
}
