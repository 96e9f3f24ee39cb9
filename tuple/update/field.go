// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

// kind tags the field-node union.
type kind int

const (
	// kindNop: unchanged source bytes.
	kindNop kind = iota
	// kindScalar: the bytes are replaced by one operation's result.
	kindScalar
	// kindArray: a rope of child nodes over an array.
	kindArray
	// kindBar: a pinpoint edit along a path inside unchanged bytes.
	kindBar
	// kindRoute: a shared path prefix leading to one next-hop node.
	kindRoute
	// kindMap: original map bytes plus a pending-edit list.
	kindMap
)

// barData is the BAR variant: one located edit point inside an
// otherwise untouched field. Offsets are relative to the field's
// data.
type barData struct {
	op *Op
	// path is the remaining path suffix from this field's root.
	path []byte
	// pointOff/pointLen frame the located value; for '#' they grow
	// to cover everything being dropped (keys included for maps).
	pointOff int
	pointLen int
	// parentOff is the container holding the point.
	parentOff int
	// newKey is set when an insertion adds a fresh map key.
	newKey []byte
}

// routeData is the ROUTE variant: operations that share this prefix
// skip re-walking it.
type routeData struct {
	path []byte
	next *Field
	// nextOff locates next.data inside this field's data.
	nextOff int
}

// Field is one node of the update tree. Every node knows its original
// byte extent, so untouched subranges are copied verbatim at store
// time.
type Field struct {
	kind kind
	data []byte

	// scalar
	op *Op

	// array
	rope *rope

	// map
	mapped *mapData

	bar   barData
	route routeData
}

// sizeof returns the node's exact output length.
func (f *Field) sizeof() int {
	switch f.kind {
	case kindNop:
		return len(f.data)
	case kindScalar:
		return f.op.newFieldLen
	case kindArray:
		return arraySizeof(f)
	case kindBar:
		return barSizeof(f)
	case kindRoute:
		return routeSizeof(f)
	case kindMap:
		return mapSizeof(f)
	}
	return 0
}

// store serializes the node, appending exactly sizeof bytes.
func (f *Field) store(buf []byte) []byte {
	switch f.kind {
	case kindNop:
		return append(buf, f.data...)
	case kindScalar:
		return f.op.meta.store(f.op, f.data, buf)
	case kindArray:
		return arrayStore(f, buf)
	case kindBar:
		return barStore(f, buf)
	case kindRoute:
		return routeStore(f, buf)
	case kindMap:
		return mapStore(f, buf)
	}
	return buf
}

/* Per-opcode dispatch over the node kind. A terminal op landing on a
   BAR or ROUTE child means two operations address intersecting paths
   with operators this engine cannot compose. */

func doFieldSet(op *Op, f *Field) error {
	switch f.kind {
	case kindArray:
		return doArraySet(op, f)
	case kindNop:
		return doNopSet(op, f)
	case kindMap:
		return doMapSet(op, f)
	case kindBar, kindRoute:
		return doRouted(op, f, doFieldSet)
	}
	return op.errDouble()
}

func doFieldInsert(op *Op, f *Field) error {
	switch f.kind {
	case kindArray:
		return doArrayInsert(op, f)
	case kindNop:
		return doNopInsert(op, f)
	case kindMap:
		return doMapInsert(op, f)
	case kindBar, kindRoute:
		return doRouted(op, f, doFieldInsert)
	}
	return op.errDouble()
}

func doFieldDelete(op *Op, f *Field) error {
	switch f.kind {
	case kindArray:
		return doArrayDelete(op, f)
	case kindNop:
		return doNopDelete(op, f)
	case kindMap:
		return doMapDelete(op, f)
	case kindBar, kindRoute:
		return doRouted(op, f, doFieldDelete)
	}
	return op.errDouble()
}

func doFieldArith(op *Op, f *Field) error {
	switch f.kind {
	case kindArray:
		return doArrayArith(op, f)
	case kindNop:
		return doNopArith(op, f)
	case kindMap:
		return doMapArith(op, f)
	case kindBar, kindRoute:
		return doRouted(op, f, doFieldArith)
	}
	return op.errDouble()
}

func doFieldBit(op *Op, f *Field) error {
	switch f.kind {
	case kindArray:
		return doArrayBit(op, f)
	case kindNop:
		return doNopBit(op, f)
	case kindMap:
		return doMapBit(op, f)
	case kindBar, kindRoute:
		return doRouted(op, f, doFieldBit)
	}
	return op.errDouble()
}

func doFieldSplice(op *Op, f *Field) error {
	switch f.kind {
	case kindArray:
		return doArraySplice(op, f)
	case kindNop:
		return doNopSplice(op, f)
	case kindMap:
		return doMapSplice(op, f)
	case kindBar, kindRoute:
		return doRouted(op, f, doFieldSplice)
	}
	return op.errDouble()
}

// doRouted advances an op into a BAR or ROUTE node. A terminal op has
// no path to follow, so the two updates intersect incompatibly.
func doRouted(op *Op, f *Field, apply func(*Op, *Field) error) error {
	if op.isTerm() && op.tokenConsumed {
		return op.errUnsupported()
	}
	if f.kind == kindRoute {
		next, err := routeNext(f, op)
		if err != nil {
			return err
		}
		return apply(op, next)
	}
	if op.lexer == nil {
		return op.errUnsupported()
	}
	next, err := routeBranch(f, op)
	if err != nil {
		return err
	}
	return apply(op, next)
}
