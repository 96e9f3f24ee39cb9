// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
)

func errCantSquash(reason string) error {
	return tuple.ClientErr(tuple.ErrUnsupported, "upsert operations can not be squashed: %s", reason)
}

// squashInput is one decoded upsert side plus cursors over its raw
// bytes, so untouched operations are copied verbatim.
type squashInput struct {
	st  state
	raw []byte // remaining serialized ops
	no  int    // next op index
}

func (in *squashInput) has() bool { return in.no < len(in.st.ops) }

func (in *squashInput) op() *Op { return &in.st.ops[in.no] }

// skipRaw advances the raw cursor past one serialized op.
func (in *squashInput) skipRaw() []byte {
	rest, _ := msgp.Skip(in.raw)
	raw := in.raw[:len(in.raw)-len(rest)]
	in.raw = rest
	return raw
}

// Squash folds two upsert operation lists into one list whose effect
// equals applying the first then the second, under the squash
// restrictions: only '=', '+' and '-', numeric addresses in strictly
// increasing field order. The merge walks both lists by field number;
// equal fields fold arithmetic by addition (the left side inverted
// when it was a subtraction) and let a right-hand '=' overwrite.
func Squash(expr1, expr2 []byte, dict *tuple.Dictionary, indexBase int) ([]byte, error) {
	inputs := [2]*squashInput{
		{st: state{indexBase: indexBase}},
		{st: state{indexBase: indexBase}},
	}
	exprs := [2][]byte{expr1, expr2}
	for j, in := range inputs {
		if err := readOps(&in.st, exprs[j], dict, 0); err != nil {
			return nil, err
		}
		_, rest, err := msgp.ReadArrayHeaderBytes(exprs[j])
		if err != nil {
			return nil, errIllegal("update operations must be an array {{op,..}, {op,..}}")
		}
		in.raw = rest
		prev := int32(indexBase) - 1
		for i := range in.st.ops {
			op := &in.st.ops[i]
			if op.opcode != '+' && op.opcode != '-' && op.opcode != '=' {
				return nil, errCantSquash("an operation is not '=', '+' or '-'")
			}
			if op.lexer != nil {
				return nil, errCantSquash("an operation uses a JSON path")
			}
			if op.fieldNo <= prev {
				return nil, errCantSquash("field numbers are not strictly increasing")
			}
			prev = op.fieldNo
		}
	}

	resCount := 0
	var body []byte
	for inputs[0].has() || inputs[1].has() {
		resCount++
		// from: 0 or 1 to copy one side, 2 to merge the tie.
		var from int
		switch {
		case inputs[0].has() && inputs[1].has():
			a, b := inputs[0].op().fieldNo, inputs[1].op().fieldNo
			switch {
			case a < b:
				from = 0
			case a > b:
				from = 1
			default:
				from = 2
			}
		case inputs[0].has():
			from = 0
		default:
			from = 1
		}
		if from == 2 && inputs[1].op().opcode == '=' {
			// The second upsert overwrites; drop the first's op.
			inputs[0].skipRaw()
			inputs[0].no++
			from = 1
		}
		if from < 2 {
			body = append(body, inputs[from].skipRaw()...)
			inputs[from].no++
			continue
		}
		op0, op1 := inputs[0].op(), inputs[1].op()
		if op0.opcode == '=' {
			return nil, errCantSquash("a '=' is amended by an arithmetic operation")
		}
		if op0.opcode == '-' {
			op0.opcode = '+'
			op0.arg.arith.neg()
		}
		res, err := makeArith(op1, op0.arg.arith)
		if err != nil {
			return nil, err
		}
		opcode := op0.opcode
		if res.typ == atInt && res.i.IsNegInt64() {
			// Emit subtractions positively: '-' with the
			// magnitude instead of '+' with a negative value.
			opcode = '-'
			res.i.Neg()
		}
		body = append(body, 0x93) // fixarray(3)
		body = msgp.AppendStringFromBytes(body, []byte{opcode})
		body = msgp.AppendUint64(body, uint64(int(op0.fieldNo)+indexBase))
		tmp := Op{opcode: opcode, arg: opArg{arith: res}}
		body = storeArith(&tmp, nil, body)
		inputs[0].skipRaw()
		inputs[1].skipRaw()
		inputs[0].no++
		inputs[1].no++
	}
	out := msgp.AppendArrayHeader(nil, uint32(resCount))
	return append(out, body...), nil
}
