// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
	"github.com/molecula/loom/tuple/jsonpath"
)

// barLocate walks op's remaining path inside the still-original bytes
// of f and turns f into a BAR pointing at the addressed value. Every
// path step must resolve.
func barLocate(op *Op, f *Field) error {
	f.bar.path = op.lexer.Rest()
	data := f.data
	pos, parent := 0, 0
	for {
		tok, err := op.lexer.Next()
		if err != nil {
			return err
		}
		if tok.Type == jsonpath.End {
			break
		}
		parent = pos
		var sub []byte
		var ok bool
		switch tok.Type {
		case jsonpath.Num:
			sub, ok = tuple.GoToIndex(data[pos:], tok.Num)
		case jsonpath.Str:
			sub, ok = tuple.GoToKey(data[pos:], tok.Str)
		default:
			return op.errBadJSONPath(op.lexer.SymbolCount - 1)
		}
		if !ok {
			return op.errNoSuchField()
		}
		pos = len(data) - len(sub)
	}
	f.kind = kindBar
	f.bar.op = op
	f.bar.pointOff = pos
	rest, err := msgp.Skip(data[pos:])
	if err != nil {
		return errIllegal("malformed record")
	}
	f.bar.pointLen = len(data) - len(rest) - pos
	f.bar.parentOff = parent
	return nil
}

// barLocateOpt walks the path allowing only the final step to miss.
// keyLenOrIndex reports the last step's key length (map) or index
// (array) so '#' can drop the key too and '!' can size the new one.
func barLocateOpt(op *Op, f *Field) (isFound bool, keyLenOrIndex int, err error) {
	f.kind = kindBar
	f.bar.op = op
	f.bar.path = op.lexer.Rest()
	data := f.data
	pos := 0
	var tok jsonpath.Token
	for {
		tok, err = op.lexer.Next()
		if err != nil {
			return false, 0, err
		}
		var sub []byte
		var ok bool
		switch tok.Type {
		case jsonpath.End:
			f.bar.pointOff = pos
			rest, serr := msgp.Skip(data[pos:])
			if serr != nil {
				return false, 0, errIllegal("malformed record")
			}
			f.bar.pointLen = len(data) - len(rest) - pos
			return true, keyLenOrIndex, nil
		case jsonpath.Num:
			f.bar.parentOff = pos
			keyLenOrIndex = tok.Num
			sub, ok = tuple.GoToIndex(data[pos:], tok.Num)
		case jsonpath.Str:
			f.bar.parentOff = pos
			keyLenOrIndex = len(tok.Str)
			sub, ok = tuple.GoToKey(data[pos:], tok.Str)
		default:
			return false, 0, op.errBadJSONPath(op.lexer.SymbolCount - 1)
		}
		if !ok {
			break
		}
		pos = len(data) - len(sub)
	}
	// The descent failed; only a missing last step is acceptable.
	tmp, lerr := op.lexer.Next()
	if lerr != nil {
		return false, 0, lerr
	}
	if tmp.Type != jsonpath.End {
		return false, 0, op.errNoSuchField()
	}
	parent := data[f.bar.parentOff:]
	if tok.Type == jsonpath.Num {
		if msgp.NextType(parent) != msgp.ArrayType {
			return false, 0, op.err("can not access by index a non-array field")
		}
		size, _, herr := msgp.ReadArrayHeaderBytes(parent)
		if herr != nil {
			return false, 0, errIllegal("malformed record")
		}
		if tok.Num > int(size) {
			return false, 0, op.errNoSuchField()
		}
		// The only way to miss by index is to use the array size,
		// which addresses the append position.
		if f.bar.parentOff == 0 {
			f.bar.pointOff = len(data)
		} else {
			rest, serr := msgp.Skip(parent)
			if serr != nil {
				return false, 0, errIllegal("malformed record")
			}
			f.bar.pointOff = len(data) - len(rest)
		}
		f.bar.pointLen = 0
	} else {
		f.bar.newKey = tok.Str
		if msgp.NextType(parent) != msgp.MapType {
			return false, 0, op.err("can not access by key a non-map field")
		}
	}
	return false, keyLenOrIndex, nil
}

/* NOP transitions: the first path operation on an untouched field
   turns it into a BAR. */

func doNopInsert(op *Op, f *Field) error {
	isFound, keyLen, err := barLocateOpt(op, f)
	if err != nil {
		return err
	}
	op.newFieldLen = len(op.arg.set)
	if msgp.NextType(f.data[f.bar.parentOff:]) == msgp.MapType {
		if isFound {
			return op.errDuplicate()
		}
		op.newFieldLen += tuple.SizeofStr(keyLen)
	}
	return nil
}

func doNopSet(op *Op, f *Field) error {
	isFound, keyLen, err := barLocateOpt(op, f)
	if err != nil {
		return err
	}
	op.newFieldLen = len(op.arg.set)
	if !isFound {
		// Auto-insert a missing leaf.
		op.opcode = '!'
		if msgp.NextType(f.data[f.bar.parentOff:]) == msgp.MapType {
			op.newFieldLen += tuple.SizeofStr(keyLen)
		}
	}
	return nil
}

func doNopDelete(op *Op, f *Field) error {
	isFound, keyLenOrIndex, err := barLocateOpt(op, f)
	if err != nil {
		return err
	}
	if !isFound {
		return op.errNoSuchField()
	}
	parent := f.data[f.bar.parentOff:]
	if msgp.NextType(parent) == msgp.ArrayType {
		size, _, herr := msgp.ReadArrayHeaderBytes(parent)
		if herr != nil {
			return errIllegal("malformed record")
		}
		if uint32(keyLenOrIndex)+op.arg.del > size {
			op.arg.del = size - uint32(keyLenOrIndex)
		}
		// Grow the point over all deleted fields.
		end := f.data[f.bar.pointOff+f.bar.pointLen:]
		for i := uint32(1); i < op.arg.del; i++ {
			end, _ = msgp.Skip(end)
		}
		f.bar.pointLen = len(f.data) - len(end) - f.bar.pointOff
	} else {
		if op.arg.del != 1 {
			return op.errDelete1()
		}
		// Cover the key so the pair goes away as one.
		keySize := tuple.SizeofStr(keyLenOrIndex)
		f.bar.pointOff -= keySize
		f.bar.pointLen += keySize
	}
	return nil
}

func doNopArith(op *Op, f *Field) error {
	if err := barLocate(op, f); err != nil {
		return err
	}
	return op.doOpArith(f.data[f.bar.pointOff:])
}

func doNopBit(op *Op, f *Field) error {
	if err := barLocate(op, f); err != nil {
		return err
	}
	return op.doOpBit(f.data[f.bar.pointOff:])
}

func doNopSplice(op *Op, f *Field) error {
	if err := barLocate(op, f); err != nil {
		return err
	}
	return op.doOpSplice(f.data[f.bar.pointOff:])
}

// barSizeof accounts for the edit and any parent header resize.
func barSizeof(f *Field) int {
	op := f.bar.op
	switch op.opcode {
	case '!':
		parent := f.data[f.bar.parentOff:]
		size := len(f.data) + op.newFieldLen
		if msgp.NextType(parent) == msgp.ArrayType {
			n, _, _ := msgp.ReadArrayHeaderBytes(parent)
			return size + tuple.SizeofArrayHeader(int(n)+1) - tuple.SizeofArrayHeader(int(n))
		}
		n, _, _ := msgp.ReadMapHeaderBytes(parent)
		return size + tuple.SizeofMapHeader(int(n)+1) - tuple.SizeofMapHeader(int(n))
	case '#':
		parent := f.data[f.bar.parentOff:]
		size := len(f.data) - f.bar.pointLen
		if msgp.NextType(parent) == msgp.ArrayType {
			n, _, _ := msgp.ReadArrayHeaderBytes(parent)
			return size - tuple.SizeofArrayHeader(int(n)) +tuple.SizeofArrayHeader(int(n)-int(op.arg.del))
		}
		n, _, _ := msgp.ReadMapHeaderBytes(parent)
		return size - tuple.SizeofMapHeader(int(n)) + tuple.SizeofMapHeader(int(n)-1)
	default:
		return len(f.data) - f.bar.pointLen + op.newFieldLen
	}
}

// barStore emits the surrounding bytes verbatim and the edit in
// place, re-encoding the parent header when the field count changed.
func barStore(f *Field, buf []byte) []byte {
	op := f.bar.op
	data := f.data
	switch op.opcode {
	case '!':
		buf = append(buf, data[:f.bar.parentOff]...)
		parent := data[f.bar.parentOff:]
		if msgp.NextType(parent) == msgp.ArrayType {
			n, inner, _ := msgp.ReadArrayHeaderBytes(parent)
			buf = msgp.AppendArrayHeader(buf, n+1)
			// Up to the insertion point.
			innerOff := len(data) - len(inner)
			buf = append(buf, data[innerOff:f.bar.pointOff]...)
			buf = append(buf, op.arg.set...)
			return append(buf, data[f.bar.pointOff:]...)
		}
		n, inner, _ := msgp.ReadMapHeaderBytes(parent)
		buf = msgp.AppendMapHeader(buf, n+1)
		buf = msgp.AppendStringFromBytes(buf, f.bar.newKey)
		buf = append(buf, op.arg.set...)
		innerOff := len(data) - len(inner)
		return append(buf, data[innerOff:]...)
	case '#':
		buf = append(buf, data[:f.bar.parentOff]...)
		parent := data[f.bar.parentOff:]
		var inner []byte
		if msgp.NextType(parent) == msgp.ArrayType {
			n, in, _ := msgp.ReadArrayHeaderBytes(parent)
			buf = msgp.AppendArrayHeader(buf, n-op.arg.del)
			inner = in
		} else {
			n, in, _ := msgp.ReadMapHeaderBytes(parent)
			buf = msgp.AppendMapHeader(buf, n-1)
			inner = in
		}
		innerOff := len(data) - len(inner)
		buf = append(buf, data[innerOff:f.bar.pointOff]...)
		return append(buf, data[f.bar.pointOff+f.bar.pointLen:]...)
	default:
		buf = append(buf, data[:f.bar.pointOff]...)
		buf = op.meta.store(op, data[f.bar.pointOff:], buf)
		return append(buf, data[f.bar.pointOff+f.bar.pointLen:]...)
	}
}
