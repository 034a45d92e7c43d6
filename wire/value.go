package wire

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Tag identifies the shape of a Value. The set is closed: every value that
// crosses the script/host boundary in structured form is one of these.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagNumber
	TagString
	TagBytes
	TagList
	TagMap
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagNumber:
		return "number"
	case TagString:
		return "string"
	case TagBytes:
		return "bytes"
	case TagList:
		return "list"
	case TagMap:
		return "map"
	default:
		return "invalid"
	}
}

// Entry is one key→value pair of a map value. Maps preserve insertion order.
type Entry struct {
	Key   string
	Value Value
}

// Value is the self-describing tagged value tree used by structured ops.
// Only the field selected by Tag is meaningful.
type Value struct {
	Bin  []byte
	Str  string
	List []Value
	Map  []Entry
	Num  float64
	Tag  Tag
	Bool bool
}

// Null returns the null value.
func Null() Value { return Value{Tag: TagNull} }

// Boolean returns a boolean value.
func Boolean(b bool) Value { return Value{Tag: TagBool, Bool: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{Tag: TagNumber, Num: n} }

// String returns a text value.
func String(s string) Value { return Value{Tag: TagString, Str: s} }

// Bytes returns a byte-sequence value. The slice is not copied.
func Bytes(b []byte) Value { return Value{Tag: TagBytes, Bin: b} }

// ListOf returns an ordered list value.
func ListOf(items ...Value) Value { return Value{Tag: TagList, List: items} }

// MapOf returns an ordered map value. Keys must be unique; duplicates are
// rejected at encode time.
func MapOf(entries ...Entry) Value { return Value{Tag: TagMap, Map: entries} }

// Pair builds one map entry.
func Pair(key string, v Value) Entry { return Entry{Key: key, Value: v} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Tag == TagNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.Tag != TagBool {
		return false, false
	}
	return v.Bool, true
}

// Float returns the numeric payload.
func (v Value) Float() (float64, bool) {
	if v.Tag != TagNumber {
		return 0, false
	}
	return v.Num, true
}

// Int returns the numeric payload truncated to int64, failing on
// non-integral numbers.
func (v Value) Int() (int64, bool) {
	if v.Tag != TagNumber || v.Num != math.Trunc(v.Num) || math.IsInf(v.Num, 0) {
		return 0, false
	}
	return int64(v.Num), true
}

// Text returns the string payload.
func (v Value) Text() (string, bool) {
	if v.Tag != TagString {
		return "", false
	}
	return v.Str, true
}

// Binary returns the byte-sequence payload.
func (v Value) Binary() ([]byte, bool) {
	if v.Tag != TagBytes {
		return nil, false
	}
	return v.Bin, true
}

// Len returns the element count for lists and maps, 0 otherwise.
func (v Value) Len() int {
	switch v.Tag {
	case TagList:
		return len(v.List)
	case TagMap:
		return len(v.Map)
	default:
		return 0
	}
}

// Index returns the i-th element of a list, or null when out of range.
func (v Value) Index(i int) Value {
	if v.Tag != TagList || i < 0 || i >= len(v.List) {
		return Null()
	}
	return v.List[i]
}

// Get looks up a map key.
func (v Value) Get(key string) (Value, bool) {
	if v.Tag != TagMap {
		return Null(), false
	}
	for _, e := range v.Map {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Null(), false
}

// Equal reports deep structural equality.
func Equal(a, b Value) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagNull:
		return true
	case TagBool:
		return a.Bool == b.Bool
	case TagNumber:
		return a.Num == b.Num || (math.IsNaN(a.Num) && math.IsNaN(b.Num))
	case TagString:
		return a.Str == b.Str
	case TagBytes:
		if len(a.Bin) != len(b.Bin) {
			return false
		}
		for i := range a.Bin {
			if a.Bin[i] != b.Bin[i] {
				return false
			}
		}
		return true
	case TagList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case TagMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for i := range a.Map {
			if a.Map[i].Key != b.Map[i].Key || !Equal(a.Map[i].Value, b.Map[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Size returns an approximate byte volume for instrumentation. It is not
// the encoded length, just a cheap per-op accounting figure.
func (v Value) Size() int {
	switch v.Tag {
	case TagNull:
		return 1
	case TagBool:
		return 1
	case TagNumber:
		return 8
	case TagString:
		return len(v.Str)
	case TagBytes:
		return len(v.Bin)
	case TagList:
		n := 0
		for _, it := range v.List {
			n += it.Size()
		}
		return n
	case TagMap:
		n := 0
		for _, e := range v.Map {
			n += len(e.Key) + e.Value.Size()
		}
		return n
	}
	return 0
}

// String renders the value for diagnostics and the REPL. The output is
// JSON-like but not valid JSON (bytes render as a length marker).
func (v Value) String() string {
	var b strings.Builder
	v.render(&b)
	return b.String()
}

func (v Value) render(b *strings.Builder) {
	switch v.Tag {
	case TagNull:
		b.WriteString("null")
	case TagBool:
		b.WriteString(strconv.FormatBool(v.Bool))
	case TagNumber:
		b.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case TagString:
		b.WriteString(strconv.Quote(v.Str))
	case TagBytes:
		fmt.Fprintf(b, "<%d bytes>", len(v.Bin))
	case TagList:
		b.WriteByte('[')
		for i, it := range v.List {
			if i > 0 {
				b.WriteString(", ")
			}
			it.render(b)
		}
		b.WriteByte(']')
	case TagMap:
		b.WriteByte('{')
		for i, e := range v.Map {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Quote(e.Key))
			b.WriteString(": ")
			e.Value.render(b)
		}
		b.WriteByte('}')
	}
}

// FromAny converts plain Go data (as produced by Export-style APIs and
// decoders) into a Value. Map keys are sorted for determinism since Go maps
// carry no order; engine adapters that know the scripted insertion order
// should build MapOf directly instead.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			v, err := FromAny(it)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return ListOf(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(t))
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Null(), err
			}
			entries = append(entries, Pair(k, v))
		}
		return MapOf(entries...), nil
	default:
		return Null(), fmt.Errorf("wire: unsupported Go type %T", x)
	}
}

// Interface converts the value to plain Go data. Map order is lost; use the
// Value itself when order matters.
func (v Value) Interface() any {
	switch v.Tag {
	case TagNull:
		return nil
	case TagBool:
		return v.Bool
	case TagNumber:
		return v.Num
	case TagString:
		return v.Str
	case TagBytes:
		return v.Bin
	case TagList:
		items := make([]any, len(v.List))
		for i, it := range v.List {
			items[i] = it.Interface()
		}
		return items
	case TagMap:
		m := make(map[string]any, len(v.Map))
		for _, e := range v.Map {
			m[e.Key] = e.Value.Interface()
		}
		return m
	}
	return nil
}
