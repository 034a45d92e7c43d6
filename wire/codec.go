package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"
)

// maxDepth bounds value-tree nesting so hostile payloads cannot blow the
// stack during decode.
const maxDepth = 128

var (
	// ErrTooDeep is returned when a value tree exceeds maxDepth.
	ErrTooDeep = errors.New("wire: value tree too deep")
	// ErrDuplicateKey is returned when a map carries the same key twice.
	ErrDuplicateKey = errors.New("wire: duplicate map key")
)

// Encode serializes a structured value. The encoding is CBOR: maps keep
// their insertion order, byte sequences stay binary, and the result is
// self-describing.
func Encode(v Value) ([]byte, error) {
	return cbor.Marshal(v)
}

// Decode parses one structured value and rejects trailing garbage.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := cbor.Unmarshal(data, &v); err != nil {
		return Null(), err
	}
	return v, nil
}

var (
	_ cbor.Marshaler   = Value{}
	_ cbor.Unmarshaler = (*Value)(nil)
)

// MarshalCBOR implements cbor.Marshaler. The encoder is written out by hand
// because the generic encoder cannot preserve map insertion order.
func (v Value) MarshalCBOR() ([]byte, error) {
	return appendValue(make([]byte, 0, 64), v, 0)
}

func appendValue(dst []byte, v Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	switch v.Tag {
	case TagNull:
		return append(dst, 0xf6), nil
	case TagBool:
		if v.Bool {
			return append(dst, 0xf5), nil
		}
		return append(dst, 0xf4), nil
	case TagNumber:
		return appendNumber(dst, v.Num), nil
	case TagString:
		dst = appendHead(dst, 3, uint64(len(v.Str)))
		return append(dst, v.Str...), nil
	case TagBytes:
		dst = appendHead(dst, 2, uint64(len(v.Bin)))
		return append(dst, v.Bin...), nil
	case TagList:
		dst = appendHead(dst, 4, uint64(len(v.List)))
		var err error
		for _, it := range v.List {
			if dst, err = appendValue(dst, it, depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case TagMap:
		seen := make(map[string]struct{}, len(v.Map))
		dst = appendHead(dst, 5, uint64(len(v.Map)))
		var err error
		for _, e := range v.Map {
			if _, dup := seen[e.Key]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, e.Key)
			}
			seen[e.Key] = struct{}{}
			dst = appendHead(dst, 3, uint64(len(e.Key)))
			dst = append(dst, e.Key...)
			if dst, err = appendValue(dst, e.Value, depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("wire: invalid tag %d", v.Tag)
	}
}

// appendNumber picks the shortest exact representation: small integral
// numbers encode as CBOR integers, everything else as a 64-bit float.
func appendNumber(dst []byte, n float64) []byte {
	const maxExact = 1 << 53
	if n == math.Trunc(n) && !math.IsInf(n, 0) && n >= -maxExact && n <= maxExact {
		if n >= 0 {
			return appendHead(dst, 0, uint64(n))
		}
		return appendHead(dst, 1, uint64(-n-1))
	}
	dst = append(dst, 0xfb)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(n))
	return append(dst, b[:]...)
}

func appendHead(dst []byte, major byte, arg uint64) []byte {
	mt := major << 5
	switch {
	case arg < 24:
		return append(dst, mt|byte(arg))
	case arg <= math.MaxUint8:
		return append(dst, mt|24, byte(arg))
	case arg <= math.MaxUint16:
		return append(dst, mt|25, byte(arg>>8), byte(arg))
	case arg <= math.MaxUint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(arg))
		return append(dst, append([]byte{mt | 26}, b[:]...)...)
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], arg)
		return append(dst, append([]byte{mt | 27}, b[:]...)...)
	}
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	d := decoder{buf: data}
	val, err := d.value(0)
	if err != nil {
		return err
	}
	if d.pos != len(d.buf) {
		return fmt.Errorf("wire: %d trailing byte(s)", len(d.buf)-d.pos)
	}
	*v = val
	return nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Null(), ErrTooDeep
	}
	major, info, arg, err := d.head()
	if err != nil {
		return Null(), err
	}
	switch major {
	case 0: // unsigned integer
		if arg > 1<<53 {
			return Null(), fmt.Errorf("wire: integer %d exceeds number precision", arg)
		}
		return Number(float64(arg)), nil
	case 1: // negative integer
		if arg >= 1<<53 {
			return Null(), fmt.Errorf("wire: integer -%d exceeds number precision", arg+1)
		}
		return Number(-1 - float64(arg)), nil
	case 2: // byte string
		b, err := d.take(arg)
		if err != nil {
			return Null(), err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return Bytes(out), nil
	case 3: // text string
		b, err := d.take(arg)
		if err != nil {
			return Null(), err
		}
		if !utf8.Valid(b) {
			return Null(), errors.New("wire: invalid UTF-8 in string")
		}
		return String(string(b)), nil
	case 4: // list
		if arg > uint64(len(d.buf)-d.pos) {
			return Null(), errors.New("wire: list length exceeds input")
		}
		items := make([]Value, 0, arg)
		for i := uint64(0); i < arg; i++ {
			it, err := d.value(depth + 1)
			if err != nil {
				return Null(), err
			}
			items = append(items, it)
		}
		return ListOf(items...), nil
	case 5: // map
		if arg > uint64(len(d.buf)-d.pos)/2 {
			return Null(), errors.New("wire: map length exceeds input")
		}
		entries := make([]Entry, 0, arg)
		seen := make(map[string]struct{}, arg)
		for i := uint64(0); i < arg; i++ {
			key, err := d.textKey()
			if err != nil {
				return Null(), err
			}
			if _, dup := seen[key]; dup {
				return Null(), fmt.Errorf("%w: %q", ErrDuplicateKey, key)
			}
			seen[key] = struct{}{}
			val, err := d.value(depth + 1)
			if err != nil {
				return Null(), err
			}
			entries = append(entries, Pair(key, val))
		}
		return MapOf(entries...), nil
	case 6:
		return Null(), errors.New("wire: semantic tags are not part of the value model")
	case 7:
		switch info {
		case 20:
			return Boolean(false), nil
		case 21:
			return Boolean(true), nil
		case 22, 23: // null, undefined
			return Null(), nil
		case 25:
			return Number(float64(float16.Frombits(uint16(arg)).Float32())), nil
		case 26:
			return Number(float64(math.Float32frombits(uint32(arg)))), nil
		case 27:
			return Number(math.Float64frombits(arg)), nil
		default:
			return Null(), fmt.Errorf("wire: unsupported simple value %d", info)
		}
	}
	return Null(), fmt.Errorf("wire: unsupported major type %d", major)
}

// head reads one item header. Indefinite lengths are rejected: every value
// crossing the boundary is definite-length by construction.
func (d *decoder) head() (major, info byte, arg uint64, err error) {
	if d.pos >= len(d.buf) {
		return 0, 0, 0, errors.New("wire: truncated input")
	}
	b := d.buf[d.pos]
	d.pos++
	major = b >> 5
	info = b & 0x1f

	switch {
	case info < 24:
		return major, info, uint64(info), nil
	case info == 24:
		v, err := d.take(1)
		if err != nil {
			return 0, 0, 0, err
		}
		return major, info, uint64(v[0]), nil
	case info == 25:
		v, err := d.take(2)
		if err != nil {
			return 0, 0, 0, err
		}
		return major, info, uint64(binary.BigEndian.Uint16(v)), nil
	case info == 26:
		v, err := d.take(4)
		if err != nil {
			return 0, 0, 0, err
		}
		return major, info, uint64(binary.BigEndian.Uint32(v)), nil
	case info == 27:
		v, err := d.take(8)
		if err != nil {
			return 0, 0, 0, err
		}
		return major, info, binary.BigEndian.Uint64(v), nil
	default:
		return 0, 0, 0, fmt.Errorf("wire: unsupported additional info %d", info)
	}
}

func (d *decoder) take(n uint64) ([]byte, error) {
	if n > uint64(len(d.buf)-d.pos) {
		return nil, errors.New("wire: truncated input")
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *decoder) textKey() (string, error) {
	major, _, arg, err := d.head()
	if err != nil {
		return "", err
	}
	if major != 3 {
		return "", errors.New("wire: map key must be a string")
	}
	b, err := d.take(arg)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("wire: invalid UTF-8 in map key")
	}
	return string(b), nil
}
