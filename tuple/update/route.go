// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"bytes"

	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
	"github.com/molecula/loom/tuple/jsonpath"
)

// routeNext obtains the node an op should descend into. When the op's
// path starts with the route's stored prefix the lexer just skips it;
// otherwise the routes diverge and the tree branches.
func routeNext(f *Field, op *Op) (*Field, error) {
	newPath := op.lexer.Rest()
	rp := f.route.path
	if len(rp) <= len(newPath) && bytes.Equal(rp, newPath[:len(rp)]) {
		op.lexer.Offset += len(rp)
		return f.route.next, nil
	}
	return routeBranch(f, op)
}

// rebase re-anchors a copied subtree from the field's whole extent to
// the element extent it will occupy inside the new parent container.
func rebase(child *Field, newData []byte, delta int) {
	child.data = newData
	switch child.kind {
	case kindBar:
		child.bar.pointOff -= delta
		child.bar.parentOff -= delta
	case kindRoute:
		child.route.nextOff -= delta
	}
}

// branchArray places child (or re-executes its operation) inside a
// fresh ARRAY node over parent. A subtree moves as-is unless it is a
// leaf '!' or '#' bar: those change the parent's field count and
// header, so the operation must be redone against the materialized
// parent. Scalar operations are never redone; their results already
// overwrote their arguments.
func branchArray(next *Field, child *Field, fieldNo int, parent []byte) error {
	cop := child.bar.op
	if child.kind != kindBar || len(child.bar.path) > 0 ||
		(cop.opcode != '!' && cop.opcode != '#') {
		return arrayCreateWithChild(next, parent, child, fieldNo)
	}
	cop.tokenType = jsonpath.Num
	cop.fieldNo = int32(fieldNo)
	cop.tokenConsumed = false
	if err := arrayCreate(next, parent); err != nil {
		return err
	}
	return cop.meta.doOp(cop, next)
}

// branchMap is the map counterpart of branchArray.
func branchMap(next *Field, child *Field, key []byte, parent []byte) error {
	cop := child.bar.op
	if child.kind != kindBar || len(child.bar.path) > 0 ||
		(cop.opcode != '!' && cop.opcode != '#') {
		return mapCreateWithChild(next, parent, child, key)
	}
	cop.tokenType = jsonpath.Str
	cop.key = key
	cop.tokenConsumed = false
	if err := mapCreate(next, parent); err != nil {
		return err
	}
	return cop.meta.doOp(cop, next)
}

// routeBranch splits the tree where an existing bar/route path and a
// new operation's path diverge. With a zero-length common prefix the
// node itself becomes an array/map; otherwise a new ROUTE node keeps
// the shared prefix and the materialized container becomes its next
// hop.
func routeBranch(f *Field, op *Op) (*Field, error) {
	var oldPath []byte
	if f.kind == kindBar {
		oldPath = f.bar.path
	} else {
		oldPath = f.route.path
	}
	oldLexer := jsonpath.NewLexer(oldPath, op.lexer.IndexBase())
	data := f.data
	pos := 0
	var savedOldOffset int
	var oldTok, newTok jsonpath.Token
	for {
		savedOldOffset = oldLexer.Offset
		var err error
		// The old path was validated when its bar was located.
		oldTok, err = oldLexer.Next()
		if err != nil {
			return nil, err
		}
		newTok, err = op.lexer.Next()
		if err != nil {
			return nil, err
		}
		if !jsonpath.TokenEq(oldTok, newTok) {
			break
		}
		var sub []byte
		var ok bool
		switch newTok.Type {
		case jsonpath.Num:
			sub, ok = tuple.GoToIndex(data[pos:], newTok.Num)
		case jsonpath.Str:
			sub, ok = tuple.GoToKey(data[pos:], newTok.Str)
		default:
			// Both paths ended at once: two operations on one
			// terminal path.
			return nil, op.errDouble()
		}
		if !ok {
			// The old token already walked this step.
			return nil, errIllegal("malformed record")
		}
		pos = len(data) - len(sub)
	}

	if oldTok.Type == jsonpath.End || newTok.Type == jsonpath.End {
		// One path is a proper prefix of the other: the edits
		// nest instead of branching.
		return nil, op.errUnsupported()
	}

	rest, err := msgp.Skip(data[pos:])
	if err != nil {
		return nil, errIllegal("malformed record")
	}
	parentVal := data[pos : len(data)-len(rest)]

	// No common prefix: transform this node in place instead of
	// growing a route above it.
	transformRoot := savedOldOffset == 0
	var next *Field
	if transformRoot {
		next = f
	} else {
		next = &Field{}
	}

	pathOffset := oldLexer.Offset
	child := *f
	if child.kind == kindRoute {
		child.route.path = oldPath[pathOffset:]
		if len(child.route.path) == 0 {
			child = *child.route.next
		}
	} else {
		child.bar.path = oldPath[pathOffset:]
	}

	switch msgp.NextType(parentVal) {
	case msgp.ArrayType:
		if newTok.Type != jsonpath.Num {
			return nil, op.err("can not update array by non-integer index")
		}
		op.tokenType = jsonpath.Num
		op.fieldNo = int32(newTok.Num)
		op.tokenConsumed = false
		if err := rebaseIntoParent(&child, data, parentVal, pos, oldTok); err != nil {
			return nil, err
		}
		if err := branchArray(next, &child, oldTok.Num, parentVal); err != nil {
			return nil, err
		}
	case msgp.MapType:
		if newTok.Type != jsonpath.Str {
			return nil, op.err("can not update map by non-string key")
		}
		op.tokenType = jsonpath.Str
		op.key = newTok.Str
		op.tokenConsumed = false
		if err := rebaseIntoParent(&child, data, parentVal, pos, oldTok); err != nil {
			return nil, err
		}
		if err := branchMap(next, &child, oldTok.Str, parentVal); err != nil {
			return nil, err
		}
	default:
		return nil, op.errNoSuchField()
	}

	if !transformRoot {
		f.kind = kindRoute
		f.route.path = oldPath[:savedOldOffset]
		f.route.next = next
		f.route.nextOff = pos
	}
	return next, nil
}

// rebaseIntoParent anchors a copied subtree at its element position
// inside parentVal. Re-executed bars and already-inner route hops
// need no rebase.
func rebaseIntoParent(child *Field, data, parentVal []byte, parentOff int, oldTok jsonpath.Token) error {
	if child.kind != kindBar && child.kind != kindRoute {
		// A trimmed route hop is already element-based.
		return nil
	}
	if child.kind == kindBar && len(child.bar.path) == 0 &&
		(child.bar.op.opcode == '!' || child.bar.op.opcode == '#') {
		// The op is re-executed against the new parent.
		return nil
	}
	var sub []byte
	var ok bool
	switch oldTok.Type {
	case jsonpath.Num:
		sub, ok = tuple.GoToIndex(parentVal, oldTok.Num)
	case jsonpath.Str:
		sub, ok = tuple.GoToKey(parentVal, oldTok.Str)
	}
	if !ok {
		return errIllegal("malformed record")
	}
	elemOff := parentOff + (len(parentVal) - len(sub))
	rest, err := msgp.Skip(data[elemOff:])
	if err != nil {
		return errIllegal("malformed record")
	}
	elem := data[elemOff : len(data)-len(rest)]
	rebase(child, elem, elemOff)
	return nil
}

// routeSizeof swaps the next hop's extent for its new size.
func routeSizeof(f *Field) int {
	return len(f.data) - len(f.route.next.data) + f.route.next.sizeof()
}

// routeStore copies the bytes around the next hop verbatim.
func routeStore(f *Field, buf []byte) []byte {
	buf = append(buf, f.data[:f.route.nextOff]...)
	buf = f.route.next.store(buf)
	after := f.route.nextOff + len(f.route.next.data)
	return append(buf, f.data[after:]...)
}
