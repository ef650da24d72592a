package gatt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Kind identifies which representation a Value holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt32
	KindBool
	KindBytes
	KindUint8
	KindUint16
	KindUint32
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt32:
		return "int32"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	default:
		return "invalid"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindString; k <= KindInt64; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown value type %q", s)
}

// Value is a tagged attribute value. The zero Value is invalid.
//
// Values are immutable: constructors copy byte slices and Raw returns a copy.
type Value struct {
	kind Kind
	str  string
	num  int64
	raw  []byte
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Int32(v int32) Value { return Value{kind: KindInt32, num: int64(v)} }
func Int64(v int64) Value { return Value{kind: KindInt64, num: v} }
func Uint8(v uint8) Value { return Value{kind: KindUint8, num: int64(v)} }
func Uint16(v uint16) Value { return Value{kind: KindUint16, num: int64(v)} }
func Uint32(v uint32) Value { return Value{kind: KindUint32, num: int64(v)} }
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: bytes.Clone(nonNil(b))} }
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Kind returns the representation held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsInt32() (int32, bool) { return int32(v.num), v.kind == KindInt32 }
func (v Value) AsInt64() (int64, bool) { return v.num, v.kind == KindInt64 }
func (v Value) AsUint8() (uint8, bool) { return uint8(v.num), v.kind == KindUint8 }
func (v Value) AsUint16() (uint16, bool) { return uint16(v.num), v.kind == KindUint16 }
func (v Value) AsUint32() (uint32, bool) { return uint32(v.num), v.kind == KindUint32 }
func (v Value) AsBool() (bool, bool) { return v.num != 0, v.kind == KindBool }

// Raw returns a copy of the byte payload of a KindBytes value.
func (v Value) Raw() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return bytes.Clone(v.raw), true
}

// Bytes returns the wire encoding of v: UTF-8 for strings, little-endian for
// integers, a single 0/1 byte for booleans, and the payload itself for raw bytes.
func (v Value) Bytes() []byte {
	switch v.kind {
	case KindString:
		return []byte(v.str)
	case KindBytes:
		return bytes.Clone(v.raw)
	case KindBool, KindUint8:
		return []byte{byte(v.num)}
	case KindUint16:
		return binary.LittleEndian.AppendUint16(nil, uint16(v.num))
	case KindInt32, KindUint32:
		return binary.LittleEndian.AppendUint32(nil, uint32(v.num))
	case KindInt64:
		return binary.LittleEndian.AppendUint64(nil, uint64(v.num))
	default:
		return []byte{}
	}
}

// Equal reports whether both values hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	default:
		return v.num == o.num
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindBytes:
		return "0x" + hex.EncodeToString(v.raw)
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindInvalid:
		return "<invalid>"
	default:
		return strconv.FormatInt(v.num, 10)
	}
}

// ParseValue builds a Value of the given kind from its textual form.
// Byte payloads are hex encoded; separators (space, colon, dash) are ignored.
func ParseValue(kind Kind, text string) (Value, error) {
	switch kind {
	case KindString:
		return String(text), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q: %w", text, err)
		}
		return Bool(b), nil
	case KindBytes:
		clean := bytes.Map(func(r rune) rune {
			if r == ' ' || r == ':' || r == '-' {
				return -1
			}
			return r
		}, []byte(text))
		b, err := hex.DecodeString(string(clean))
		if err != nil {
			return Value{}, fmt.Errorf("invalid hex %q: %w", text, err)
		}
		return Bytes(b), nil
	case KindInt32, KindInt64:
		bits := 32
		if kind == KindInt64 {
			bits = 64
		}
		n, err := strconv.ParseInt(text, 0, bits)
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s %q: %w", kind, text, err)
		}
		if kind == KindInt32 {
			return Int32(int32(n)), nil
		}
		return Int64(n), nil
	case KindUint8, KindUint16, KindUint32:
		bits := map[Kind]int{KindUint8: 8, KindUint16: 16, KindUint32: 32}[kind]
		n, err := strconv.ParseUint(text, 0, bits)
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s %q: %w", kind, text, err)
		}
		switch kind {
		case KindUint8:
			return Uint8(uint8(n)), nil
		case KindUint16:
			return Uint16(uint16(n)), nil
		default:
			return Uint32(uint32(n)), nil
		}
	default:
		return Value{}, fmt.Errorf("unsupported value type %s", kind)
	}
}
