// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
	"github.com/molecula/loom/tuple/jsonpath"
)

// mapEdit is one pending change to a map. A key has at most two
// edits: an original-pair slot (replacement or deletion) and an
// insert slot (a fresh pair). Edits are consulted before the original
// pairs on lookup.
type mapEdit struct {
	key      []byte
	field    Field
	inserted bool
	deleted  bool
	// Extents of the original pair, when there is one.
	keyOff int
	valOff int
	valEnd int
}

// mapData is the MAP variant payload.
type mapData struct {
	count    int // original pair count
	innerOff int // first pair's offset within data
	edits    []*mapEdit
}

// mapCreate turns f into a MAP node over extent, which must start
// with the map header.
func mapCreate(f *Field, extent []byte) error {
	count, inner, err := msgp.ReadMapHeaderBytes(extent)
	if err != nil {
		return errIllegal("expected a map")
	}
	f.kind = kindMap
	f.data = extent
	f.mapped = &mapData{
		count:    int(count),
		innerOff: len(extent) - len(inner),
	}
	return nil
}

// mapCreateWithChild builds a MAP node whose pair at key is already
// the materialized node child.
func mapCreateWithChild(f *Field, extent []byte, child *Field, key []byte) error {
	if err := mapCreate(f, extent); err != nil {
		return err
	}
	keyOff, valOff, valEnd, found := mapFindOriginal(f, key)
	if !found {
		return errIllegal("malformed record")
	}
	f.mapped.edits = append(f.mapped.edits, &mapEdit{
		key:    key,
		field:  *child,
		keyOff: keyOff,
		valOff: valOff,
		valEnd: valEnd,
	})
	return nil
}

// mapFindOrig returns the original-pair edit slot for key, if any.
func mapFindOrig(f *Field, key []byte) *mapEdit {
	for _, e := range f.mapped.edits {
		if !e.inserted && string(e.key) == string(key) {
			return e
		}
	}
	return nil
}

// mapFindInsert returns the pending-insert edit for key, if any.
func mapFindInsert(f *Field, key []byte) *mapEdit {
	for _, e := range f.mapped.edits {
		if e.inserted && string(e.key) == string(key) {
			return e
		}
	}
	return nil
}

// mapFindOriginal scans the original pairs for a string key.
func mapFindOriginal(f *Field, key []byte) (keyOff, valOff, valEnd int, found bool) {
	data := f.data
	pos := data[f.mapped.innerOff:]
	for i := 0; i < f.mapped.count; i++ {
		kOff := len(data) - len(pos)
		var k []byte
		var err error
		match := false
		if msgp.NextType(pos) == msgp.StrType {
			k, pos, err = msgp.ReadStringZC(pos)
			if err != nil {
				return 0, 0, 0, false
			}
			match = string(k) == string(key)
		} else if pos, err = msgp.Skip(pos); err != nil {
			return 0, 0, 0, false
		}
		vOff := len(data) - len(pos)
		if pos, err = msgp.Skip(pos); err != nil {
			return 0, 0, 0, false
		}
		if match {
			return kOff, vOff, len(data) - len(pos), true
		}
	}
	return 0, 0, 0, false
}

// mapLive resolves the key to its currently-live edit slot,
// materializing one over the original pair on first touch. A nil
// return means the key has no live value.
func mapLive(f *Field, key []byte) *mapEdit {
	if e := mapFindInsert(f, key); e != nil {
		return e
	}
	if e := mapFindOrig(f, key); e != nil {
		if e.deleted {
			return nil
		}
		return e
	}
	keyOff, valOff, valEnd, found := mapFindOriginal(f, key)
	if !found {
		return nil
	}
	e := &mapEdit{
		key:    key,
		field:  Field{kind: kindNop, data: f.data[valOff:valEnd]},
		keyOff: keyOff,
		valOff: valOff,
		valEnd: valEnd,
	}
	f.mapped.edits = append(f.mapped.edits, e)
	return e
}

// mapInsertPair queues a fresh pair carrying raw value bytes.
func mapInsertPair(f *Field, key, value []byte) {
	f.mapped.edits = append(f.mapped.edits, &mapEdit{
		key:      key,
		field:    Field{kind: kindNop, data: value},
		inserted: true,
	})
}

// mapPrepareToken ensures the op addresses this map level by a string
// key.
func mapPrepareToken(op *Op) error {
	if op.tokenConsumed {
		if err := op.consumeToken(); err != nil {
			return err
		}
	}
	if op.tokenType != jsonpath.Str {
		return op.err("can not update map by non-string key")
	}
	return nil
}

func doMapSet(op *Op, f *Field) error {
	if err := mapPrepareToken(op); err != nil {
		return err
	}
	e := mapLive(f, op.key)
	if !op.isTerm() {
		if e == nil {
			return op.errNoSuchField()
		}
		op.tokenConsumed = true
		return doFieldSet(op, &e.field)
	}
	op.newFieldLen = len(op.arg.set)
	switch {
	case e == nil:
		// Promote to insertion.
		mapInsertPair(f, op.key, op.arg.set)
	case e.inserted:
		// '=' over a pending insert replaces its raw value.
		e.field = Field{kind: kindNop, data: op.arg.set}
	default:
		// Overwrite whatever edit was there: results replace
		// arguments.
		e.field = Field{kind: kindScalar, data: f.data[e.valOff:e.valEnd], op: op}
	}
	return nil
}

func doMapInsert(op *Op, f *Field) error {
	if err := mapPrepareToken(op); err != nil {
		return err
	}
	if !op.isTerm() {
		e := mapLive(f, op.key)
		if e == nil {
			return op.errNoSuchField()
		}
		op.tokenConsumed = true
		return doFieldInsert(op, &e.field)
	}
	if mapLive(f, op.key) != nil {
		return op.errDuplicate()
	}
	op.newFieldLen = len(op.arg.set)
	mapInsertPair(f, op.key, op.arg.set)
	return nil
}

func doMapDelete(op *Op, f *Field) error {
	if err := mapPrepareToken(op); err != nil {
		return err
	}
	if !op.isTerm() {
		e := mapLive(f, op.key)
		if e == nil {
			return op.errNoSuchField()
		}
		op.tokenConsumed = true
		return doFieldDelete(op, &e.field)
	}
	if op.arg.del != 1 {
		return op.errDelete1()
	}
	if e := mapFindInsert(f, op.key); e != nil {
		// Drop the pending insert entirely.
		edits := f.mapped.edits[:0]
		for _, x := range f.mapped.edits {
			if x != e {
				edits = append(edits, x)
			}
		}
		f.mapped.edits = edits
		return nil
	}
	if e := mapFindOrig(f, op.key); e != nil {
		if e.deleted {
			return op.errNoSuchField()
		}
		e.deleted = true
		e.field = Field{}
		return nil
	}
	keyOff, valOff, valEnd, found := mapFindOriginal(f, op.key)
	if !found {
		return op.errNoSuchField()
	}
	f.mapped.edits = append(f.mapped.edits, &mapEdit{
		key:     op.key,
		deleted: true,
		keyOff:  keyOff,
		valOff:  valOff,
		valEnd:  valEnd,
	})
	return nil
}

func doMapScalar(op *Op, f *Field, apply func(*Op, *Field) error,
	do func(old []byte) error) error {
	if err := mapPrepareToken(op); err != nil {
		return err
	}
	e := mapLive(f, op.key)
	if e == nil {
		return op.errNoSuchField()
	}
	if !op.isTerm() {
		op.tokenConsumed = true
		return apply(op, &e.field)
	}
	if e.field.kind != kindNop {
		return op.errDouble()
	}
	if err := do(e.field.data); err != nil {
		return err
	}
	e.field = Field{kind: kindScalar, data: e.field.data, op: op}
	return nil
}

func doMapArith(op *Op, f *Field) error {
	return doMapScalar(op, f, doFieldArith, op.doOpArith)
}

func doMapBit(op *Op, f *Field) error {
	return doMapScalar(op, f, doFieldBit, op.doOpBit)
}

func doMapSplice(op *Op, f *Field) error {
	return doMapScalar(op, f, doFieldSplice, op.doOpSplice)
}

// mapSizeof starts from the original extent and applies the edit
// deltas plus the header resize.
func mapSizeof(f *Field) int {
	m := f.mapped
	size := len(f.data) - m.innerOff
	newCount := m.count
	for _, e := range m.edits {
		switch {
		case e.inserted:
			size += tuple.SizeofStr(len(e.key)) + e.field.sizeof()
			newCount++
		case e.deleted:
			size -= e.valEnd - e.keyOff
			newCount--
		default:
			size += e.field.sizeof() - (e.valEnd - e.valOff)
		}
	}
	return size + tuple.SizeofMapHeader(newCount)
}

// mapStore writes the new header, the original pairs with their edits
// applied, then the inserted pairs.
func mapStore(f *Field, buf []byte) []byte {
	m := f.mapped
	newCount := m.count
	for _, e := range m.edits {
		if e.inserted {
			newCount++
		} else if e.deleted {
			newCount--
		}
	}
	buf = msgp.AppendMapHeader(buf, uint32(newCount))
	data := f.data
	pos := data[m.innerOff:]
	for i := 0; i < m.count; i++ {
		kOff := len(data) - len(pos)
		var key []byte
		isStr := msgp.NextType(pos) == msgp.StrType
		if isStr {
			key, pos, _ = msgp.ReadStringZC(pos)
		} else {
			pos, _ = msgp.Skip(pos)
		}
		vOff := len(data) - len(pos)
		pos, _ = msgp.Skip(pos)
		vEnd := len(data) - len(pos)
		var e *mapEdit
		if isStr {
			e = mapFindOrig(f, key)
		}
		switch {
		case e == nil:
			buf = append(buf, data[kOff:vEnd]...)
		case e.deleted:
			// The pair is gone.
		default:
			buf = append(buf, data[kOff:vOff]...)
			buf = e.field.store(buf)
		}
	}
	for _, e := range m.edits {
		if !e.inserted {
			continue
		}
		buf = msgp.AppendStringFromBytes(buf, e.key)
		buf = e.field.store(buf)
	}
	return buf
}
