// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package update transforms a serialized MsgPack record by applying a
// list of field operations, producing the new record in a single
// output buffer without materializing intermediates. Cost is
// O(record size) + O(k log k) in the operation count.
package update

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
	"github.com/molecula/loom/tuple/jsonpath"
)

// opCountMax bounds one update expression.
const opCountMax = 4000

// spliceArg carries the ':' operation arguments and the tail extent
// computed when the operation is applied.
type spliceArg struct {
	offset  int32
	cut     int32
	paste   []byte
	tailOff int32
	tailLen int32
}

// opArg is the typed argument union.
type opArg struct {
	set    []byte // raw value bytes for '=' and '!'
	del    uint32 // '#': how many fields
	arith  Arith
	bit    uint64
	splice spliceArg
}

// opMeta binds an opcode to its reader, executor and writer.
type opMeta struct {
	readArg  func(op *Op, expr []byte, indexBase int) ([]byte, error)
	doOp     func(op *Op, f *Field) error
	store    func(op *Op, in []byte, buf []byte) []byte
	argCount uint32
}

// Op is one decoded update operation.
type Op struct {
	opcode byte
	meta   *opMeta

	// Field address. fieldNo/key hold the current path token;
	// lexer walks the rest of a JSON path.
	fieldNo       int32
	key           []byte
	tokenType     jsonpath.TokenType
	tokenConsumed bool
	lexer         *jsonpath.Lexer

	arg         opArg
	newFieldLen int
}

// isTerm reports whether the op has no path left: its current token
// addresses the final field.
func (op *Op) isTerm() bool {
	return op.lexer == nil || op.lexer.Offset >= len(op.lexer.Src())
}

// consumeToken lexes the next path step into the op's address.
func (op *Op) consumeToken() error {
	tok, err := op.lexer.Next()
	if err != nil {
		return err
	}
	switch tok.Type {
	case jsonpath.End:
		return op.errNoSuchField()
	case jsonpath.Num:
		op.tokenType = jsonpath.Num
		op.fieldNo = int32(tok.Num)
	case jsonpath.Str:
		op.tokenType = jsonpath.Str
		op.key = tok.Str
	default:
		return op.errBadJSONPath(op.lexer.SymbolCount - 1)
	}
	op.tokenConsumed = false
	return nil
}

// adjustFieldNo resolves a possibly negative field number against
// max, the container size plus any insert slack.
func (op *Op) adjustFieldNo(max int32) error {
	if op.fieldNo >= 0 {
		if op.fieldNo < max {
			return nil
		}
	} else if op.fieldNo+max >= 0 {
		op.fieldNo += max
		return nil
	}
	return op.errNoSuchField()
}

/* Error helpers. */

// fieldStr identifies the op's target in error messages: the path as
// written, or the 1-based (or negative) field number.
func (op *Op) fieldStr() string {
	if op.lexer != nil {
		return "'" + string(op.lexer.Src()) + "'"
	}
	if op.fieldNo >= 0 {
		return itoa(int(op.fieldNo) + 1)
	}
	return itoa(int(op.fieldNo))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (op *Op) errArgType(need string) error {
	return tuple.ClientErr(tuple.ErrUpdateArgType,
		"argument type in operation '%c' on field %s does not match field type: expected %s",
		op.opcode, op.fieldStr(), need)
}

func (op *Op) errIntOverflow() error {
	return tuple.ClientErr(tuple.ErrUpdateIntegerOverflow,
		"integer overflow when performing '%c' operation on field %s",
		op.opcode, op.fieldStr())
}

func (op *Op) errDecimalOverflow() error {
	return tuple.ClientErr(tuple.ErrUpdateDecimalOverflow,
		"decimal overflow when performing '%c' operation on field %s",
		op.opcode, op.fieldStr())
}

func (op *Op) errSpliceBound() error {
	return tuple.ClientErr(tuple.ErrUpdateSplice,
		"failed to splice field %s: offset is out of bound", op.fieldStr())
}

func (op *Op) errNoSuchField() error {
	if op.lexer != nil {
		return tuple.ClientErr(tuple.ErrNoSuchFieldName,
			"field %s was not found in the tuple", op.fieldStr())
	}
	return tuple.ClientErr(tuple.ErrNoSuchFieldNo,
		"field %s was not found in the tuple", op.fieldStr())
}

func (op *Op) err(reason string) error {
	return tuple.ClientErr(tuple.ErrUpdateField,
		"field %s UPDATE error: %s", op.fieldStr(), reason)
}

func (op *Op) errDouble() error {
	return tuple.ClientErr(tuple.ErrDoubleUpdate,
		"field %s UPDATE error: double update of the same field", op.fieldStr())
}

func (op *Op) errDuplicate() error {
	return tuple.ClientErr(tuple.ErrDuplicate,
		"field %s UPDATE error: the key exists already", op.fieldStr())
}

func (op *Op) errDelete1() error {
	return op.err("can delete only 1 field from a map in a row")
}

func (op *Op) errUnsupported() error {
	return tuple.ClientErr(tuple.ErrUnsupported,
		"update does not support intersected JSON paths")
}

func (op *Op) errBadJSONPath(pos int) error {
	return tuple.ClientErr(tuple.ErrBadJSONPath,
		"invalid path '%s': error at symbol %d", op.lexer.Src(), pos+1)
}

func errIllegal(reason string) error {
	return tuple.ClientErr(tuple.ErrIllegalParams, "%s", reason)
}

/* Argument readers. */

func readInt32(op *Op, expr []byte) (int32, []byte, error) {
	v, rest, ok := tuple.ReadInt32(expr)
	if !ok {
		return 0, expr, op.errArgType("an integer")
	}
	return v, rest, nil
}

func readUint(op *Op, expr []byte) (uint64, []byte, error) {
	switch msgp.NextType(expr) {
	case msgp.UintType:
		v, rest, err := msgp.ReadUint64Bytes(expr)
		if err == nil {
			return v, rest, nil
		}
	case msgp.IntType:
		// Positive fixints and non-negative signed encodings.
		v, rest, err := msgp.ReadInt64Bytes(expr)
		if err == nil && v >= 0 {
			return uint64(v), rest, nil
		}
	}
	return 0, expr, op.errArgType("a positive integer")
}

func readStr(op *Op, expr []byte) ([]byte, []byte, error) {
	if msgp.NextType(expr) == msgp.StrType {
		v, rest, err := msgp.ReadStringZC(expr)
		if err == nil {
			return v, rest, nil
		}
	}
	return nil, expr, op.errArgType("a string")
}

func readArgSet(op *Op, expr []byte, indexBase int) ([]byte, error) {
	rest, err := msgp.Skip(expr)
	if err != nil {
		return expr, errIllegal("can't unpack update operations")
	}
	op.arg.set = expr[:len(expr)-len(rest)]
	return rest, nil
}

func readArgDelete(op *Op, expr []byte, indexBase int) ([]byte, error) {
	v, rest, err := readUint(op, expr)
	if err != nil {
		return expr, err
	}
	if v == 0 {
		return expr, op.err("cannot delete 0 fields")
	}
	op.arg.del = uint32(v)
	return rest, nil
}

func readArgArith(op *Op, expr []byte, indexBase int) ([]byte, error) {
	a, rest, err := readArithValue(op, expr)
	if err != nil {
		return expr, err
	}
	op.arg.arith = a
	return rest, nil
}

func readArgBit(op *Op, expr []byte, indexBase int) ([]byte, error) {
	v, rest, err := readUint(op, expr)
	if err != nil {
		return expr, err
	}
	op.arg.bit = v
	return rest, nil
}

func readArgSplice(op *Op, expr []byte, indexBase int) ([]byte, error) {
	arg := &op.arg.splice
	var err error
	arg.offset, expr, err = readInt32(op, expr)
	if err != nil {
		return expr, err
	}
	if arg.offset >= 0 {
		if arg.offset-int32(indexBase) < 0 {
			return expr, op.errSpliceBound()
		}
		arg.offset -= int32(indexBase)
	}
	arg.cut, expr, err = readInt32(op, expr)
	if err != nil {
		return expr, err
	}
	arg.paste, expr, err = readStr(op, expr)
	return expr, err
}

var (
	metaSet    = &opMeta{readArgSet, doFieldSet, storeSet, 3}
	metaInsert = &opMeta{readArgSet, doFieldInsert, storeSet, 3}
	metaArith  = &opMeta{readArgArith, doFieldArith, storeArith, 3}
	metaBit    = &opMeta{readArgBit, doFieldBit, storeBit, 3}
	metaSplice = &opMeta{readArgSplice, doFieldSplice, storeSplice, 5}
	metaDelete = &opMeta{readArgDelete, doFieldDelete, nil, 3}
)

func opByOpcode(opcode byte) *opMeta {
	switch opcode {
	case '=':
		return metaSet
	case '+', '-':
		return metaArith
	case '&', '|', '^':
		return metaBit
	case ':':
		return metaSplice
	case '#':
		return metaDelete
	case '!':
		return metaInsert
	default:
		return nil
	}
}

// decodeOp parses one serialized operation.
func decodeOp(op *Op, indexBase int, dict *tuple.Dictionary, expr []byte) ([]byte, error) {
	if msgp.NextType(expr) != msgp.ArrayType {
		return expr, errIllegal("update operation must be an array {op,..}")
	}
	argCount, rest, err := msgp.ReadArrayHeaderBytes(expr)
	if err != nil {
		return expr, errIllegal("update operation must be an array {op,..}")
	}
	if argCount < 1 {
		return expr, errIllegal("update operation must be an array {op,..}, got empty array")
	}
	if msgp.NextType(rest) != msgp.StrType {
		return expr, errIllegal("update operation name must be a string")
	}
	name, rest, err := msgp.ReadStringZC(rest)
	if err != nil || len(name) != 1 {
		return expr, tuple.ClientErr(tuple.ErrUnknownUpdateOp, "unknown UPDATE operation")
	}
	op.opcode = name[0]
	op.meta = opByOpcode(op.opcode)
	if op.meta == nil {
		return expr, tuple.ClientErr(tuple.ErrUnknownUpdateOp, "unknown UPDATE operation")
	}
	if argCount != op.meta.argCount {
		return expr, tuple.ClientErr(tuple.ErrUnknownUpdateOp, "unknown UPDATE operation")
	}
	op.tokenType = jsonpath.Num
	op.tokenConsumed = false
	switch msgp.NextType(rest) {
	case msgp.IntType, msgp.UintType:
		op.lexer = nil
		var fieldNo int32
		fieldNo, rest, err = readInt32(op, rest)
		if err != nil {
			return expr, err
		}
		switch {
		case fieldNo-int32(indexBase) >= 0:
			op.fieldNo = fieldNo - int32(indexBase)
		case fieldNo < 0:
			op.fieldNo = fieldNo
		default:
			return expr, tuple.ClientErr(tuple.ErrNoSuchFieldNo,
				"field %d was not found in the tuple", fieldNo)
		}
	case msgp.StrType:
		var path []byte
		path, rest, err = msgp.ReadStringZC(rest)
		if err != nil {
			return expr, errIllegal("field id must be a number or a string")
		}
		op.lexer = jsonpath.NewLexer(path, indexBase)
		if no, ok := dict.FieldByName(path); ok {
			op.fieldNo = int32(no)
			op.lexer.Offset = len(path)
			break
		}
		tok, lerr := op.lexer.Next()
		if lerr != nil {
			return expr, lerr
		}
		switch tok.Type {
		case jsonpath.Num:
			op.fieldNo = int32(tok.Num)
		case jsonpath.Str:
			if no, ok := dict.FieldByName(tok.Str); ok {
				op.fieldNo = int32(no)
				break
			}
			fallthrough
		default:
			return expr, tuple.ClientErr(tuple.ErrNoSuchFieldName,
				"field '%s' was not found in the tuple", path)
		}
	default:
		return expr, errIllegal("field id must be a number or a string")
	}
	return op.meta.readArg(op, rest, indexBase)
}
