package asyncproxy

import (
	"encoding/binary"
	"fmt"
	"math"
)

// tag is the codec's 1-byte type discriminant, spec §4.4.2.
type tag byte

const (
	tagNumber tag = iota // f64
	tagBigint            // i64
	tagBool              // 0 or 1, in an 8-byte little-endian payload like tagBigint
	tagString            // utf-8, length-prefixed
)

// arg is one positional value in a call's s11n payload. Callers build
// these with the number/bigint/boolean/str constructors below rather
// than setting fields directly.
type arg struct {
	tag tag
	i64 int64
	f64 float64
	str string
}

func number(v float64) arg  { return arg{tag: tagNumber, f64: v} }
func bigint(v int64) arg    { return arg{tag: tagBigint, i64: v} }
func boolean(v bool) arg {
	if v {
		return arg{tag: tagBool, i64: 1}
	}
	return arg{tag: tagBool, i64: 0}
}
func str(v string) arg { return arg{tag: tagString, str: v} }

func (a arg) asInt64() int64 {
	switch a.tag {
	case tagBigint:
		return a.i64
	case tagBool:
		return a.i64
	case tagNumber:
		return int64(a.f64)
	}
	return 0
}

func (a arg) asBool() bool   { return a.i64 != 0 }
func (a arg) asString() string { return a.str }
func (a arg) asFloat64() float64 {
	if a.tag == tagNumber {
		return a.f64
	}
	return float64(a.i64)
}

// encodeArgs serializes args into buf as `N t1..tN d1..dN`, spec
// §4.4.2. Writing zero arguments clears the block (writes N=0).
func encodeArgs(buf []byte, args ...arg) (int, error) {
	if len(args) > 255 {
		return 0, fmt.Errorf("asyncproxy: codec: %d arguments exceeds the 1-byte count field", len(args))
	}
	if len(buf) < 1 {
		return 0, fmt.Errorf("asyncproxy: codec: s11n block too small")
	}
	buf[0] = byte(len(args))
	n := 1 + len(args) // count byte + one tag byte per arg
	if n > len(buf) {
		return 0, fmt.Errorf("asyncproxy: codec: s11n block too small for %d tags", len(args))
	}
	for i, a := range args {
		buf[1+i] = byte(a.tag)
	}

	off := n
	for _, a := range args {
		switch a.tag {
		case tagNumber:
			if off+8 > len(buf) {
				return 0, fmt.Errorf("asyncproxy: codec: s11n block overflow encoding number")
			}
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(a.f64))
			off += 8
		case tagBigint, tagBool:
			if off+8 > len(buf) {
				return 0, fmt.Errorf("asyncproxy: codec: s11n block overflow encoding integer")
			}
			binary.LittleEndian.PutUint64(buf[off:], uint64(a.i64))
			off += 8
		case tagString:
			b := []byte(a.str)
			if off+4+len(b) > len(buf) {
				return 0, fmt.Errorf("asyncproxy: codec: s11n block overflow encoding string")
			}
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
			off += 4
			copy(buf[off:], b)
			off += len(b)
		}
	}
	return off, nil
}

// decodeArgs parses a block previously written by encodeArgs.
func decodeArgs(buf []byte) ([]arg, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("asyncproxy: codec: empty s11n block")
	}
	n := int(buf[0])
	if n == 0 {
		return nil, nil
	}
	if 1+n > len(buf) {
		return nil, fmt.Errorf("asyncproxy: codec: truncated tag array")
	}
	tags := make([]tag, n)
	for i := 0; i < n; i++ {
		tags[i] = tag(buf[1+i])
	}

	off := 1 + n
	out := make([]arg, n)
	for i, t := range tags {
		switch t {
		case tagNumber:
			if off+8 > len(buf) {
				return nil, fmt.Errorf("asyncproxy: codec: truncated number payload")
			}
			out[i] = arg{tag: t, f64: math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))}
			off += 8
		case tagBigint, tagBool:
			if off+8 > len(buf) {
				return nil, fmt.Errorf("asyncproxy: codec: truncated integer payload")
			}
			out[i] = arg{tag: t, i64: int64(binary.LittleEndian.Uint64(buf[off:]))}
			off += 8
		case tagString:
			if off+4 > len(buf) {
				return nil, fmt.Errorf("asyncproxy: codec: truncated string length")
			}
			l := int(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
			if off+l > len(buf) {
				return nil, fmt.Errorf("asyncproxy: codec: truncated string payload")
			}
			out[i] = arg{tag: t, str: string(buf[off : off+l])}
			off += l
		default:
			return nil, fmt.Errorf("asyncproxy: codec: unknown type tag %d", t)
		}
	}
	return out, nil
}
