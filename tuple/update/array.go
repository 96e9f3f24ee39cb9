// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
	"github.com/molecula/loom/tuple/jsonpath"
)

// splitArrayItem carves a new leaf starting offset fields into an
// existing leaf's range, truncating the original leaf's tail.
func splitArrayItem(it *arrayItem, offset int) *arrayItem {
	pos := it.tail
	for i := 1; i < offset; i++ {
		pos, _ = msgp.Skip(pos)
	}
	rest, _ := msgp.Skip(pos)
	newField := pos[:len(pos)-len(rest)]
	next := &arrayItem{
		field: Field{kind: kindNop, data: newField},
		tail:  rest,
	}
	it.tail = it.tail[:len(it.tail)-len(pos)]
	return next
}

// arrayCreate turns f into an ARRAY node over extent, which must
// start with the array header.
func arrayCreate(f *Field, extent []byte) error {
	count, inner, err := msgp.ReadArrayHeaderBytes(extent)
	if err != nil {
		return errIllegal("expected an array")
	}
	f.kind = kindArray
	f.data = extent
	f.rope = newRope(splitArrayItem)
	if count == 0 {
		return nil
	}
	rest, err := msgp.Skip(inner)
	if err != nil {
		return errIllegal("malformed record")
	}
	first := inner[:len(inner)-len(rest)]
	f.rope.append(&arrayItem{
		field: Field{kind: kindNop, data: first},
		tail:  rest,
	}, int(count))
	return nil
}

// arrayCreateWithChild builds an ARRAY node over extent whose
// fieldNo-th child is the already-materialized node child; every
// other field stays untouched source.
func arrayCreateWithChild(f *Field, extent []byte, child *Field, fieldNo int) error {
	count, pos, err := msgp.ReadArrayHeaderBytes(extent)
	if err != nil {
		return errIllegal("expected an array")
	}
	f.kind = kindArray
	f.data = extent
	f.rope = newRope(splitArrayItem)

	if fieldNo > 0 {
		first, err := firstField(pos)
		if err != nil {
			return err
		}
		pre := &arrayItem{field: Field{kind: kindNop, data: first}}
		rest := pos[len(first):]
		for i := 1; i < fieldNo; i++ {
			rest, _ = msgp.Skip(rest)
		}
		pre.tail = pos[len(first) : len(pos)-len(rest)]
		f.rope.append(pre, fieldNo)
		pos = rest
	}
	// The child's own extent.
	pos = pos[len(child.data):]
	f.rope.append(&arrayItem{field: *child}, 1)
	if after := int(count) - fieldNo - 1; after > 0 {
		first, err := firstField(pos)
		if err != nil {
			return err
		}
		f.rope.append(&arrayItem{
			field: Field{kind: kindNop, data: first},
			tail:  pos[len(first):],
		}, after)
	}
	return nil
}

func firstField(b []byte) ([]byte, error) {
	rest, err := msgp.Skip(b)
	if err != nil {
		return nil, errIllegal("malformed record")
	}
	return b[:len(b)-len(rest)], nil
}

// arrayPrepareToken makes sure the op's current token addresses this
// array level, lexing the next step when the previous level used the
// stored one.
func arrayPrepareToken(op *Op) error {
	if op.tokenConsumed {
		if err := op.consumeToken(); err != nil {
			return err
		}
	}
	if op.tokenType != jsonpath.Num {
		return op.err("can not update array by non-integer index")
	}
	return nil
}

// arrayExtract resolves the op's field number against the rope and
// returns the item owning exactly that field.
func arrayExtract(f *Field, op *Op) (*arrayItem, error) {
	if err := op.adjustFieldNo(int32(f.rope.size())); err != nil {
		return nil, err
	}
	return f.rope.extract(int(op.fieldNo)), nil
}

func doArrayInsert(op *Op, f *Field) error {
	if err := arrayPrepareToken(op); err != nil {
		return err
	}
	if !op.isTerm() {
		item, err := arrayExtract(f, op)
		if err != nil {
			return err
		}
		op.tokenConsumed = true
		return doFieldInsert(op, &item.field)
	}
	if err := op.adjustFieldNo(int32(f.rope.size()) + 1); err != nil {
		return err
	}
	op.newFieldLen = len(op.arg.set)
	f.rope.insert(int(op.fieldNo), &arrayItem{
		field: Field{kind: kindNop, data: op.arg.set},
	}, 1)
	return nil
}

func doArraySet(op *Op, f *Field) error {
	if err := arrayPrepareToken(op); err != nil {
		return err
	}
	if !op.isTerm() {
		item, err := arrayExtract(f, op)
		if err != nil {
			return err
		}
		op.tokenConsumed = true
		return doFieldSet(op, &item.field)
	}
	// '=' with index size+1 means append.
	if int(op.fieldNo) == f.rope.size() {
		return doArrayInsert(op, f)
	}
	item, err := arrayExtract(f, op)
	if err != nil {
		return err
	}
	op.newFieldLen = len(op.arg.set)
	// Overwrite whatever edit was there: results replace arguments.
	item.field = Field{kind: kindScalar, data: item.field.data, op: op}
	return nil
}

func doArrayDelete(op *Op, f *Field) error {
	if err := arrayPrepareToken(op); err != nil {
		return err
	}
	if !op.isTerm() {
		item, err := arrayExtract(f, op)
		if err != nil {
			return err
		}
		op.tokenConsumed = true
		return doFieldDelete(op, &item.field)
	}
	size := f.rope.size()
	if err := op.adjustFieldNo(int32(size)); err != nil {
		return err
	}
	count := int(op.arg.del)
	if int(op.fieldNo)+count > size {
		count = size - int(op.fieldNo)
	}
	for i := 0; i < count; i++ {
		f.rope.erase(int(op.fieldNo))
	}
	return nil
}

func doArrayScalar(op *Op, f *Field, apply func(*Op, *Field) error,
	do func(old []byte) error) error {
	if err := arrayPrepareToken(op); err != nil {
		return err
	}
	item, err := arrayExtract(f, op)
	if err != nil {
		return err
	}
	if !op.isTerm() {
		op.tokenConsumed = true
		return apply(op, &item.field)
	}
	if item.field.kind != kindNop {
		return op.errDouble()
	}
	if err := do(item.field.data); err != nil {
		return err
	}
	item.field = Field{kind: kindScalar, data: item.field.data, op: op}
	return nil
}

func doArrayArith(op *Op, f *Field) error {
	return doArrayScalar(op, f, doFieldArith, op.doOpArith)
}

func doArrayBit(op *Op, f *Field) error {
	return doArrayScalar(op, f, doFieldBit, op.doOpBit)
}

func doArraySplice(op *Op, f *Field) error {
	return doArrayScalar(op, f, doFieldSplice, op.doOpSplice)
}

// arraySizeof sums the children plus the re-encoded header.
func arraySizeof(f *Field) int {
	size := tuple.SizeofArrayHeader(f.rope.size())
	f.rope.walk(func(it *arrayItem, count int) {
		size += it.field.sizeof() + len(it.tail)
	})
	return size
}

// arrayStore writes the header, then each leaf's first field and its
// unchanged tail run.
func arrayStore(f *Field, buf []byte) []byte {
	buf = msgp.AppendArrayHeader(buf, uint32(f.rope.size()))
	f.rope.walk(func(it *arrayItem, count int) {
		buf = it.field.store(buf)
		buf = append(buf, it.tail...)
	})
	return buf
}
