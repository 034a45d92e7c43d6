package engine

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/scripthost/jscore/wire"
)

// maxConvertDepth bounds value-tree recursion so cyclic or pathological
// script values cannot blow the host stack.
const maxConvertDepth = 128

var errConvertTooDeep = fmt.Errorf("engine: value nesting exceeds %d levels", maxConvertDepth)

// toWire converts a script value into the structured wire form. Object key
// order follows the script's insertion order. Functions and exotic objects
// are rejected; only the closed wire value set crosses the boundary.
func toWire(v goja.Value, depth int) (wire.Value, error) {
	if depth > maxConvertDepth {
		return wire.Null(), errConvertTooDeep
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return wire.Null(), nil
	}

	if obj, ok := v.(*goja.Object); ok {
		switch obj.ClassName() {
		case "Array":
			length := obj.Get("length").ToInteger()
			items := make([]wire.Value, 0, length)
			for i := int64(0); i < length; i++ {
				item, err := toWire(obj.Get(strconv.FormatInt(i, 10)), depth+1)
				if err != nil {
					return wire.Null(), err
				}
				items = append(items, item)
			}
			return wire.ListOf(items...), nil

		case "Object":
			// ArrayBuffers report the plain Object class; only their
			// exported Go value tells them apart.
			if ab, ok := obj.Export().(goja.ArrayBuffer); ok {
				// Copy out: the script may mutate or detach the buffer
				// after the call returns.
				return wire.Bytes(append([]byte(nil), ab.Bytes()...)), nil
			}

			keys := obj.Keys()
			entries := make([]wire.Entry, 0, len(keys))
			for _, k := range keys {
				val, err := toWire(obj.Get(k), depth+1)
				if err != nil {
					return wire.Null(), err
				}
				entries = append(entries, wire.Pair(k, val))
			}
			return wire.MapOf(entries...), nil

		default:
			return wire.Null(), fmt.Errorf("engine: cannot convert %s object", obj.ClassName())
		}
	}

	switch x := v.Export().(type) {
	case bool:
		return wire.Boolean(x), nil
	case int64:
		return wire.Number(float64(x)), nil
	case float64:
		return wire.Number(x), nil
	case string:
		return wire.String(x), nil
	}
	return wire.Null(), fmt.Errorf("engine: unsupported value of type %T", v.Export())
}

// toGoja converts a wire value into a script value. Byte sequences become
// fresh ArrayBuffers; maps become plain objects with keys set in wire order.
func toGoja(vm *goja.Runtime, v wire.Value) goja.Value {
	switch v.Tag {
	case wire.TagNull:
		return goja.Null()
	case wire.TagBool:
		return vm.ToValue(v.Bool)
	case wire.TagNumber:
		return vm.ToValue(v.Num)
	case wire.TagString:
		return vm.ToValue(v.Str)
	case wire.TagBytes:
		return vm.ToValue(vm.NewArrayBuffer(append([]byte(nil), v.Bin...)))
	case wire.TagList:
		items := make([]any, len(v.List))
		for i, it := range v.List {
			items[i] = toGoja(vm, it)
		}
		return vm.NewArray(items...)
	case wire.TagMap:
		obj := vm.NewObject()
		for _, e := range v.Map {
			obj.Set(e.Key, toGoja(vm, e.Value))
		}
		return obj
	}
	return goja.Null()
}
