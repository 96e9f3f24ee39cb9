// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package tuple

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// Byte-level MsgPack helpers layered over msgp: exact encoded sizes
// (the sizer must agree with the emitter to the byte), field walkers,
// and a raw extension codec.

// SizeofUint is the encoded size of an unsigned integer.
func SizeofUint(v uint64) int {
	switch {
	case v < 128:
		return 1
	case v <= 0xff:
		return 2
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// SizeofInt is the encoded size of a negative integer. Non-negative
// values take the unsigned encoding.
func SizeofInt(v int64) int {
	if v >= 0 {
		return SizeofUint(uint64(v))
	}
	switch {
	case v >= -32:
		return 1
	case v >= -128:
		return 2
	case v >= -32768:
		return 3
	case v >= -2147483648:
		return 5
	default:
		return 9
	}
}

// SizeofStrHeader is the encoded size of a string header.
func SizeofStrHeader(n int) int {
	switch {
	case n < 32:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

// SizeofStr is the encoded size of a whole string.
func SizeofStr(n int) int { return SizeofStrHeader(n) + n }

// SizeofArrayHeader is the encoded size of an array header.
func SizeofArrayHeader(n int) int {
	switch {
	case n < 16:
		return 1
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

// SizeofMapHeader is the encoded size of a map header.
func SizeofMapHeader(n int) int { return SizeofArrayHeader(n) }

// SizeofFloat32 is the encoded size of a float32.
const SizeofFloat32 = 5

// SizeofFloat64 is the encoded size of a float64.
const SizeofFloat64 = 9

// SizeofExt is the encoded size of an extension with an n-byte
// payload.
func SizeofExt(n int) int {
	switch n {
	case 1, 2, 4, 8, 16:
		return 2 + n
	}
	switch {
	case n <= 0xff:
		return 3 + n
	case n <= 0xffff:
		return 4 + n
	default:
		return 6 + n
	}
}

// AppendExt appends an extension value with the given type and
// payload.
func AppendExt(b []byte, typ int8, payload []byte) []byte {
	n := len(payload)
	switch n {
	case 1:
		b = append(b, 0xd4)
	case 2:
		b = append(b, 0xd5)
	case 4:
		b = append(b, 0xd6)
	case 8:
		b = append(b, 0xd7)
	case 16:
		b = append(b, 0xd8)
	default:
		switch {
		case n <= 0xff:
			b = append(b, 0xc7, byte(n))
		case n <= 0xffff:
			b = append(b, 0xc8, 0, 0)
			binary.BigEndian.PutUint16(b[len(b)-2:], uint16(n))
		default:
			b = append(b, 0xc9, 0, 0, 0, 0)
			binary.BigEndian.PutUint32(b[len(b)-4:], uint32(n))
		}
	}
	b = append(b, byte(typ))
	return append(b, payload...)
}

// ReadExtHeader decodes an extension header, returning its type and
// the payload as a subslice.
func ReadExtHeader(b []byte) (typ int8, payload []byte, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, b, errors.New("short extension")
	}
	var n, hdr int
	switch b[0] {
	case 0xd4:
		n, hdr = 1, 2
	case 0xd5:
		n, hdr = 2, 2
	case 0xd6:
		n, hdr = 4, 2
	case 0xd7:
		n, hdr = 8, 2
	case 0xd8:
		n, hdr = 16, 2
	case 0xc7:
		if len(b) < 3 {
			return 0, nil, b, errors.New("short ext8")
		}
		n, hdr = int(b[1]), 3
	case 0xc8:
		if len(b) < 4 {
			return 0, nil, b, errors.New("short ext16")
		}
		n, hdr = int(binary.BigEndian.Uint16(b[1:])), 4
	case 0xc9:
		if len(b) < 6 {
			return 0, nil, b, errors.New("short ext32")
		}
		n, hdr = int(binary.BigEndian.Uint32(b[1:])), 6
	default:
		return 0, nil, b, errors.Errorf("not an extension: 0x%02x", b[0])
	}
	typ = int8(b[hdr-1])
	if len(b) < hdr+n {
		return 0, nil, b, errors.New("truncated extension payload")
	}
	return typ, b[hdr : hdr+n], b[hdr+n:], nil
}

// ReadInt32 reads a signed or unsigned integer that must fit int32.
func ReadInt32(b []byte) (int32, []byte, bool) {
	switch msgp.NextType(b) {
	case msgp.UintType:
		v, rest, err := msgp.ReadUint64Bytes(b)
		if err != nil || v > 0x7fffffff {
			return 0, b, false
		}
		return int32(v), rest, true
	case msgp.IntType:
		v, rest, err := msgp.ReadInt64Bytes(b)
		if err != nil || v < -2147483648 || v > 2147483647 {
			return 0, b, false
		}
		return int32(v), rest, true
	}
	return 0, b, false
}

// GoToIndex positions at the idx-th (0-based) element of the array
// starting at b.
func GoToIndex(b []byte, idx int) ([]byte, bool) {
	size, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || idx < 0 || idx >= int(size) {
		return nil, false
	}
	for i := 0; i < idx; i++ {
		rest, err = msgp.Skip(rest)
		if err != nil {
			return nil, false
		}
	}
	return rest, true
}

// GoToKey positions at the value of the given string key in the map
// starting at b.
func GoToKey(b []byte, key []byte) ([]byte, bool) {
	size, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, false
	}
	for i := 0; i < int(size); i++ {
		var k []byte
		if msgp.NextType(rest) == msgp.StrType {
			k, rest, err = msgp.ReadStringZC(rest)
			if err != nil {
				return nil, false
			}
			if string(k) == string(key) {
				return rest, true
			}
		} else {
			rest, err = msgp.Skip(rest)
			if err != nil {
				return nil, false
			}
		}
		rest, err = msgp.Skip(rest)
		if err != nil {
			return nil, false
		}
	}
	return nil, false
}
