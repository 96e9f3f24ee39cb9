// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/arena"
	"github.com/molecula/loom/logger"
	"github.com/molecula/loom/tuple"
)

// state is one update in flight.
type state struct {
	ops       []Op
	indexBase int
	mask      tuple.ColumnMask
	root      Field
}

// readOps decodes the operation array, checks it and fills the column
// mask. fieldCountHint tunes negative-index mask accuracy; zero (as
// CheckOps and Squash pass) at worst widens the mask, never the result.
func readOps(st *state, expr []byte, dict *tuple.Dictionary, fieldCountHint int32) error {
	if msgp.NextType(expr) != msgp.ArrayType {
		return errIllegal("update operations must be an array {{op,..}, {op,..}}")
	}
	opCount, rest, err := msgp.ReadArrayHeaderBytes(expr)
	if err != nil {
		return errIllegal("update operations must be an array {{op,..}, {op,..}}")
	}
	if opCount > opCountMax {
		return errIllegal("too many operations for update")
	}
	st.ops = make([]Op, opCount)
	for i := range st.ops {
		op := &st.ops[i]
		rest, err = decodeOp(op, st.indexBase, dict, rest)
		if err != nil {
			return err
		}
		// Keep collecting changed columns only while the mask has
		// unset bits.
		if st.mask.IsFull() {
			continue
		}
		var fieldNo int32
		switch {
		case op.fieldNo >= 0:
			fieldNo = op.fieldNo
		case op.opcode != '!':
			fieldNo = fieldCountHint + op.fieldNo
		default:
			// '!' with a negative number inserts after the
			// position, so it creates field position + 1.
			fieldNo = fieldCountHint + op.fieldNo + 1
		}
		if fieldNo < 0 {
			// A too-negative index; it will fail during apply,
			// widen the mask meanwhile.
			st.mask.SetRange(0)
			continue
		}
		// Track the running field count so later negative indexes
		// resolve against the updated record.
		if op.opcode == '!' {
			fieldCountHint++
		} else if op.opcode == '#' {
			fieldCountHint -= int32(op.arg.del)
		}
		if op.opcode == '!' || op.opcode == '#' {
			// Insertions and deletions shift every column at or
			// after the spot.
			st.mask.SetRange(uint32(fieldNo))
		} else {
			st.mask.SetField(uint32(fieldNo))
		}
	}
	if len(rest) != 0 {
		return errIllegal("can't unpack update operations")
	}
	return nil
}

// doOps applies the decoded operations to the record's field tree.
func (st *state) doOps(record []byte) error {
	if err := arrayCreate(&st.root, record); err != nil {
		return err
	}
	for i := range st.ops {
		op := &st.ops[i]
		if err := op.meta.doOp(op, &st.root); err != nil {
			return err
		}
	}
	return nil
}

// doOpsUpsert is doOps with client-class per-op failures logged and
// skipped instead of aborting.
func (st *state) doOpsUpsert(record []byte, suppress bool, log logger.Logger) error {
	if err := arrayCreate(&st.root, record); err != nil {
		return err
	}
	for i := range st.ops {
		op := &st.ops[i]
		err := op.meta.doOp(op, &st.root)
		if err == nil {
			continue
		}
		if !tuple.IsClientErr(err) {
			return err
		}
		if !suppress {
			log.Errorf("UPSERT operation failed: %v", err)
		}
	}
	return nil
}

// finish sizes the result and serializes it in one pass each. The
// output comes from reg when given, the heap otherwise.
func (st *state) finish(reg *arena.Region) []byte {
	size := st.root.sizeof()
	var buf []byte
	if reg != nil {
		buf = reg.Alloc(size)[:0]
	} else {
		buf = make([]byte, 0, size)
	}
	out := st.root.store(buf)
	if len(out) != size {
		panic("update: size pass disagrees with emit pass")
	}
	return out
}

// Execute applies a serialized operation list to a serialized record
// and returns the new record plus the column mask of everything the
// update may have touched. reg, when non-nil, provides the output
// allocation.
func Execute(expr, record []byte, dict *tuple.Dictionary, indexBase int,
	reg *arena.Region) ([]byte, tuple.ColumnMask, error) {
	st := state{indexBase: indexBase}
	fieldCount, _, err := msgp.ReadArrayHeaderBytes(record)
	if err != nil {
		return nil, 0, errIllegal("expected an array")
	}
	if err := readOps(&st, expr, dict, int32(fieldCount)); err != nil {
		return nil, 0, err
	}
	if err := st.doOps(record); err != nil {
		return nil, 0, err
	}
	return st.finish(reg), st.mask, nil
}

// ExecuteUpsert is Execute in upsert mode: client-class per-op errors
// are logged (unless suppressed) and skipped.
func ExecuteUpsert(expr, record []byte, dict *tuple.Dictionary, indexBase int,
	suppress bool, log logger.Logger, reg *arena.Region) ([]byte, tuple.ColumnMask, error) {
	if log == nil {
		log = logger.NopLogger
	}
	st := state{indexBase: indexBase}
	fieldCount, _, err := msgp.ReadArrayHeaderBytes(record)
	if err != nil {
		return nil, 0, errIllegal("expected an array")
	}
	if err := readOps(&st, expr, dict, int32(fieldCount)); err != nil {
		return nil, 0, err
	}
	if err := st.doOpsUpsert(record, suppress, log); err != nil {
		return nil, 0, err
	}
	return st.finish(reg), st.mask, nil
}

// CheckOps validates a serialized operation list without applying it.
func CheckOps(expr []byte, dict *tuple.Dictionary, indexBase int) error {
	st := state{indexBase: indexBase}
	return readOps(&st, expr, dict, 0)
}
