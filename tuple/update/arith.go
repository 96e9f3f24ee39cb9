// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
)

// arithType orders the numeric kinds by expressiveness; the lower
// value of the two operands picks the computation path.
type arithType int

const (
	atDecimal arithType = iota // decimal extension
	atDouble                   // float64
	atFloat                    // float32
	atInt                      // int/uint
)

// Int128 is a two-word signed accumulator wide enough to add any two
// values from (-2^63, 2^64) without losing the overflow information.
type Int128 struct {
	lo uint64
	hi int64 // carries the sign extension
}

func int128FromUint(v uint64) Int128 {
	return Int128{lo: v}
}

func int128FromInt(v int64) Int128 {
	return Int128{lo: uint64(v), hi: v >> 63}
}

// Add accumulates b into a.
func (a *Int128) Add(b Int128) {
	lo, carry := bits.Add64(a.lo, b.lo, 0)
	a.lo = lo
	a.hi = a.hi + b.hi + int64(carry)
}

// Neg negates in place (128-bit two's complement).
func (a *Int128) Neg() {
	a.lo = ^a.lo
	a.hi = ^a.hi
	lo, carry := bits.Add64(a.lo, 1, 0)
	a.lo = lo
	a.hi += int64(carry)
}

// IsUint64 reports whether the value fits an unsigned 64-bit integer.
func (a Int128) IsUint64() bool { return a.hi == 0 }

// IsNegInt64 reports whether the value is a negative int64.
func (a Int128) IsNegInt64() bool { return a.hi == -1 && a.lo >= 1<<63 }

// Uint64 extracts the value; valid only when IsUint64.
func (a Int128) Uint64() uint64 { return a.lo }

// Int64 extracts the value; valid only when IsNegInt64.
func (a Int128) Int64() int64 { return int64(a.lo) }

// Arith is the tagged arithmetic value: argument and result of '+'
// and '-'.
type Arith struct {
	typ arithType
	i   Int128
	dbl float64
	flt float32
	dec decimal.Decimal
}

// readArithValue loads an arithmetic operand from a record field or
// an operation argument.
func readArithValue(op *Op, expr []byte) (Arith, []byte, error) {
	switch msgp.NextType(expr) {
	case msgp.UintType:
		v, rest, err := msgp.ReadUint64Bytes(expr)
		if err != nil {
			break
		}
		return Arith{typ: atInt, i: int128FromUint(v)}, rest, nil
	case msgp.IntType:
		v, rest, err := msgp.ReadInt64Bytes(expr)
		if err != nil {
			break
		}
		return Arith{typ: atInt, i: int128FromInt(v)}, rest, nil
	case msgp.Float64Type:
		v, rest, err := msgp.ReadFloat64Bytes(expr)
		if err != nil {
			break
		}
		return Arith{typ: atDouble, dbl: v}, rest, nil
	case msgp.Float32Type:
		v, rest, err := msgp.ReadFloat32Bytes(expr)
		if err != nil {
			break
		}
		return Arith{typ: atFloat, flt: v}, rest, nil
	case msgp.ExtensionType:
		d, rest, err := tuple.ReadDecimal(expr)
		if err != nil {
			break
		}
		return Arith{typ: atDecimal, dec: d}, rest, nil
	}
	return Arith{}, expr, op.errArgType("a number")
}

func (a Arith) toDouble() float64 {
	switch a.typ {
	case atDouble:
		return a.dbl
	case atFloat:
		return float64(a.flt)
	default:
		if a.i.IsUint64() {
			return float64(a.i.Uint64())
		}
		return float64(a.i.Int64())
	}
}

func (a Arith) toDecimal() (decimal.Decimal, bool) {
	switch a.typ {
	case atDecimal:
		return a.dec, true
	case atDouble:
		if math.IsNaN(a.dbl) || math.IsInf(a.dbl, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(a.dbl), true
	case atFloat:
		f := float64(a.flt)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(f), true
	default:
		if a.i.IsUint64() {
			return decimal.NewFromBigInt(new(big.Int).SetUint64(a.i.Uint64()), 0), true
		}
		return decimal.New(a.i.Int64(), 0), true
	}
}

// neg negates the value; used when squash folds a '-' into a '+'.
func (a *Arith) neg() {
	switch a.typ {
	case atInt:
		a.i.Neg()
	case atDouble:
		a.dbl = -a.dbl
	case atFloat:
		a.flt = -a.flt
	case atDecimal:
		a.dec = a.dec.Neg()
	}
}

// arithSizeof is the encoded size of an arithmetic result.
func arithSizeof(a Arith) int {
	switch a.typ {
	case atInt:
		if a.i.IsUint64() {
			return tuple.SizeofUint(a.i.Uint64())
		}
		return tuple.SizeofInt(a.i.Int64())
	case atDouble:
		return tuple.SizeofFloat64
	case atFloat:
		return tuple.SizeofFloat32
	default:
		return tuple.SizeofDecimal(a.dec)
	}
}

// makeArith computes `left <op> op.arg.arith` with the promotion
// rules: the less expressive operand type picks the path, integers
// run through the wide accumulator, float results are lowered from a
// double intermediate, decimals bound precision.
func makeArith(op *Op, left Arith) (Arith, error) {
	arg1 := left
	arg2 := op.arg.arith
	lowest := arg1.typ
	if arg2.typ < lowest {
		lowest = arg2.typ
	}
	switch {
	case lowest == atInt:
		acc := arg1.i
		switch op.opcode {
		case '+':
			acc.Add(arg2.i)
		case '-':
			neg := arg2.i
			neg.Neg()
			acc.Add(neg)
		}
		if !acc.IsUint64() && !acc.IsNegInt64() {
			return Arith{}, op.errIntOverflow()
		}
		return Arith{typ: atInt, i: acc}, nil
	case lowest >= atDouble:
		// At least one operand is a double or a float.
		a, b := arg1.toDouble(), arg2.toDouble()
		var c float64
		switch op.opcode {
		case '+':
			c = a + b
		case '-':
			c = a - b
		}
		if lowest == atDouble {
			return Arith{typ: atDouble, dbl: c}, nil
		}
		return Arith{typ: atFloat, flt: float32(c)}, nil
	default:
		a, ok1 := arg1.toDecimal()
		b, ok2 := arg2.toDecimal()
		if !ok1 || !ok2 {
			return Arith{}, op.errArgType("a number convertible to decimal")
		}
		var c decimal.Decimal
		switch op.opcode {
		case '+':
			c = a.Add(b)
		case '-':
			c = a.Sub(b)
		}
		if tuple.DecimalOverflows(c) {
			return Arith{}, op.errDecimalOverflow()
		}
		return Arith{typ: atDecimal, dec: c}, nil
	}
}

// doOpArith applies an arith op against the old scalar bytes and
// records the result in place of the arguments.
func (op *Op) doOpArith(old []byte) error {
	left, _, err := readArithValue(op, old)
	if err != nil {
		return err
	}
	res, err := makeArith(op, left)
	if err != nil {
		return err
	}
	op.arg.arith = res
	op.newFieldLen = arithSizeof(res)
	return nil
}

// doOpBit applies a bitwise op against the old unsigned value.
func (op *Op) doOpBit(old []byte) error {
	val, _, err := readUint(op, old)
	if err != nil {
		return err
	}
	arg := &op.arg.bit
	switch op.opcode {
	case '&':
		*arg &= val
	case '^':
		*arg ^= val
	case '|':
		*arg |= val
	}
	op.newFieldLen = tuple.SizeofUint(*arg)
	return nil
}

// doOpSplice normalizes the splice bounds against the old string and
// records the tail extent.
func (op *Op) doOpSplice(old []byte) error {
	arg := &op.arg.splice
	str, _, err := readStr(op, old)
	if err != nil {
		return err
	}
	strLen := int32(len(str))
	if arg.offset < 0 {
		if -arg.offset > strLen {
			return op.errSpliceBound()
		}
		arg.offset += strLen + 1
	} else if arg.offset > strLen {
		arg.offset = strLen
	}
	if arg.cut < 0 {
		if -arg.cut > strLen-arg.offset {
			arg.cut = 0
		} else {
			arg.cut += strLen - arg.offset
		}
	} else if arg.cut > strLen-arg.offset {
		arg.cut = strLen - arg.offset
	}
	arg.tailOff = arg.offset + arg.cut
	arg.tailLen = strLen - arg.tailOff
	op.newFieldLen = tuple.SizeofStr(int(arg.offset) + len(arg.paste) + int(arg.tailLen))
	return nil
}

/* Scalar writers. The output buffer was sized exactly; every writer
   appends op.newFieldLen bytes. */

func storeSet(op *Op, in []byte, buf []byte) []byte {
	return append(buf, op.arg.set...)
}

func storeArith(op *Op, in []byte, buf []byte) []byte {
	a := op.arg.arith
	switch a.typ {
	case atInt:
		if a.i.IsUint64() {
			return msgp.AppendUint64(buf, a.i.Uint64())
		}
		return msgp.AppendInt64(buf, a.i.Int64())
	case atDouble:
		return msgp.AppendFloat64(buf, a.dbl)
	case atFloat:
		return msgp.AppendFloat32(buf, a.flt)
	default:
		return tuple.AppendDecimal(buf, a.dec)
	}
}

func storeBit(op *Op, in []byte, buf []byte) []byte {
	return msgp.AppendUint64(buf, op.arg.bit)
}

func storeSplice(op *Op, in []byte, buf []byte) []byte {
	arg := &op.arg.splice
	str, _, _ := msgp.ReadStringZC(in)
	newLen := int(arg.offset) + len(arg.paste) + int(arg.tailLen)
	buf = appendStrHeader(buf, newLen)
	buf = append(buf, str[:arg.offset]...)
	buf = append(buf, arg.paste...)
	return append(buf, str[arg.tailOff:arg.tailOff+arg.tailLen]...)
}

// appendStrHeader writes just a string header; the body follows from
// separate copies.
func appendStrHeader(buf []byte, n int) []byte {
	switch {
	case n < 32:
		return append(buf, 0xa0|byte(n))
	case n <= 0xff:
		return append(buf, 0xd9, byte(n))
	case n <= 0xffff:
		return append(buf, 0xda, byte(n>>8), byte(n))
	default:
		return append(buf, 0xdb, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}
