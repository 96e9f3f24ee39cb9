// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"

	"github.com/molecula/loom/tuple"
)

// M is an ordered msgpack map literal for tests.
type M [][2]interface{}

// raw injects pre-encoded bytes.
type raw []byte

func appendVal(b []byte, v interface{}) []byte {
	switch x := v.(type) {
	case nil:
		return append(b, 0xc0)
	case bool:
		return msgp.AppendBool(b, x)
	case int:
		if x >= 0 {
			return msgp.AppendUint64(b, uint64(x))
		}
		return msgp.AppendInt64(b, int64(x))
	case int64:
		if x >= 0 {
			return msgp.AppendUint64(b, uint64(x))
		}
		return msgp.AppendInt64(b, x)
	case uint64:
		return msgp.AppendUint64(b, x)
	case float64:
		return msgp.AppendFloat64(b, x)
	case float32:
		return msgp.AppendFloat32(b, x)
	case string:
		return msgp.AppendString(b, x)
	case decimal.Decimal:
		return tuple.AppendDecimal(b, x)
	case raw:
		return append(b, x...)
	case []interface{}:
		b = msgp.AppendArrayHeader(b, uint32(len(x)))
		for _, e := range x {
			b = appendVal(b, e)
		}
		return b
	case M:
		b = msgp.AppendMapHeader(b, uint32(len(x)))
		for _, kv := range x {
			b = appendVal(b, kv[0])
			b = appendVal(b, kv[1])
		}
		return b
	default:
		panic("unhandled literal type")
	}
}

func mp(v interface{}) []byte { return appendVal(nil, v) }

// tup encodes a record: a msgpack array of fields.
func tup(fields ...interface{}) []byte { return mp(append([]interface{}{}, fields...)) }

// exprOf encodes an operation list.
func exprOf(ops ...[]interface{}) []byte {
	b := msgp.AppendArrayHeader(nil, uint32(len(ops)))
	for _, op := range ops {
		b = appendVal(b, append([]interface{}{}, opAsIface(op)...))
	}
	return b
}

func opAsIface(op []interface{}) []interface{} { return op }

func exec(t *testing.T, expr, record []byte, dict *tuple.Dictionary, base int) ([]byte, tuple.ColumnMask) {
	t.Helper()
	out, mask, err := Execute(expr, record, dict, base, nil)
	require.NoError(t, err)
	return out, mask
}

func execErr(t *testing.T, expr, record []byte, dict *tuple.Dictionary, base int) error {
	t.Helper()
	_, _, err := Execute(expr, record, dict, base, nil)
	require.Error(t, err)
	return err
}

func TestArithOnFlatRecord(t *testing.T) {
	// [1,2,3] with ['+',2,10] (1-based) => [1,12,3].
	out, mask := exec(t,
		exprOf([]interface{}{"+", 2, 10}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tup(1, 12, 3), out)
	require.True(t, mask.Covers(1))
	require.False(t, mask.Covers(0))
	require.False(t, mask.Covers(2))
}

func TestInsertAtTail(t *testing.T) {
	// [1,2,3] with ['!',4,4] => [1,2,3,4]; mask is a range from 3.
	out, mask := exec(t,
		exprOf([]interface{}{"!", 4, 4}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tup(1, 2, 3, 4), out)
	require.True(t, mask.Covers(3))
	require.True(t, mask.Covers(40))
	require.False(t, mask.Covers(2))
}

func TestDeleteTooNegative(t *testing.T) {
	// ['#',-4,1] on a 3-field record addresses nothing.
	err := execErr(t,
		exprOf([]interface{}{"#", -4, 1}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tuple.ErrNoSuchFieldNo, tuple.CodeOf(err))
}

func TestPathSetInNestedArray(t *testing.T) {
	// Field "a" = {"b":[10,20,30]}; a.b[2] = 99 (1-based).
	dict := tuple.NewDictionary([]string{"a"})
	record := tup(M{{"b", []interface{}{10, 20, 30}}})
	out, mask := exec(t,
		exprOf([]interface{}{"=", "a.b[2]", 99}),
		record, dict, 1)
	require.Equal(t, tup(M{{"b", []interface{}{10, 99, 30}}}), out)
	require.True(t, mask.Covers(0))
}

func TestIdentity(t *testing.T) {
	record := tup(1, "two", []interface{}{3, M{{"k", "v"}}}, -5)
	out, mask := exec(t, exprOf(), record, nil, 1)
	require.Equal(t, record, out)
	require.Equal(t, tuple.ColumnMask(0), mask)
}

func TestSetRoundTrip(t *testing.T) {
	record := tup(1, "two", 3)
	out, _ := exec(t,
		exprOf([]interface{}{"=", 2, "two"}),
		record, nil, 1)
	require.Equal(t, record, out)
}

func TestIndependentOpsCommute(t *testing.T) {
	record := tup(1, 2, 3, "abc")
	a := []interface{}{"+", 1, 5}
	b := []interface{}{"=", 4, "xyz"}
	out1, _ := exec(t, exprOf(a, b), record, nil, 1)
	out2, _ := exec(t, exprOf(b, a), record, nil, 1)
	require.Equal(t, out1, out2)
	require.Equal(t, tup(6, 2, 3, "xyz"), out1)
}

func TestSetAppendsAtSizePlusOne(t *testing.T) {
	out, _ := exec(t,
		exprOf([]interface{}{"=", 4, 4}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tup(1, 2, 3, 4), out)

	// Beyond size+1 it is not an auto-append.
	err := execErr(t,
		exprOf([]interface{}{"=", 6, 6}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tuple.ErrNoSuchFieldNo, tuple.CodeOf(err))
}

func TestNegativeIndexes(t *testing.T) {
	// -1 is the last field.
	out, _ := exec(t,
		exprOf([]interface{}{"=", -1, 30}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tup(1, 2, 30), out)

	out, _ = exec(t,
		exprOf([]interface{}{"#", -1, 1}),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tup(1, 2), out)
}

func TestDeleteClampsToTail(t *testing.T) {
	out, _ := exec(t,
		exprOf([]interface{}{"#", 2, 100}),
		tup(1, 2, 3, 4), nil, 1)
	require.Equal(t, tup(1), out)
}

func TestDeleteZeroFields(t *testing.T) {
	err := execErr(t,
		exprOf([]interface{}{"#", 1, 0}),
		tup(1, 2), nil, 1)
	require.Equal(t, tuple.ErrUpdateField, tuple.CodeOf(err))
}

func TestInsertMiddleThenUpdateShifted(t *testing.T) {
	// Field indexes of later ops see the already-updated record.
	out, _ := exec(t,
		exprOf(
			[]interface{}{"!", 2, 99},
			[]interface{}{"+", 3, 1},
		),
		tup(1, 2, 3), nil, 1)
	require.Equal(t, tup(1, 99, 3, 3), out)
}

func TestBitOps(t *testing.T) {
	out, _ := exec(t,
		exprOf(
			[]interface{}{"&", 1, 6},
			[]interface{}{"|", 2, 8},
			[]interface{}{"^", 3, 5},
		),
		tup(12, 1, 1), nil, 1)
	require.Equal(t, tup(4, 9, 4), out)
}

func TestBitOnNegativeFails(t *testing.T) {
	err := execErr(t,
		exprOf([]interface{}{"&", 1, 6}),
		tup(-2), nil, 1)
	require.Equal(t, tuple.ErrUpdateArgType, tuple.CodeOf(err))
}

func TestSplice(t *testing.T) {
	// offset 3 (1-based => cut from the third byte), cut 2, paste.
	out, _ := exec(t,
		exprOf([]interface{}{":", 1, 3, 2, "XY"}),
		tup("abcdef"), nil, 1)
	require.Equal(t, tup("abXYef"), out)

	// Negative offset counts from the end; -1 appends.
	out, _ = exec(t,
		exprOf([]interface{}{":", 1, -1, 0, "!"}),
		tup("abc"), nil, 1)
	require.Equal(t, tup("abc!"), out)

	// Cut clamps to the remaining length.
	out, _ = exec(t,
		exprOf([]interface{}{":", 1, 2, 100, "Z"}),
		tup("abcd"), nil, 1)
	require.Equal(t, tup("aZ"), out)
}

func TestSpliceOffsetOutOfBound(t *testing.T) {
	err := execErr(t,
		exprOf([]interface{}{":", 1, -5, 0, "x"}),
		tup("abc"), nil, 1)
	require.Equal(t, tuple.ErrUpdateSplice, tuple.CodeOf(err))

	// A positive offset below the index base is out of bound too.
	err = execErr(t,
		exprOf([]interface{}{":", 1, 0, 0, "x"}),
		tup("abc"), nil, 1)
	require.Equal(t, tuple.ErrUpdateSplice, tuple.CodeOf(err))
}

func TestArithPromotion(t *testing.T) {
	// int + double computes in double.
	out, _ := exec(t,
		exprOf([]interface{}{"+", 1, 0.5}),
		tup(1), nil, 1)
	require.Equal(t, tup(1.5), out)

	// float field stays float.
	out, _ = exec(t,
		exprOf([]interface{}{"+", 1, 1}),
		tup(float32(2.5)), nil, 1)
	require.Equal(t, tup(float32(3.5)), out)

	// int - int crossing zero becomes a negative int.
	out, _ = exec(t,
		exprOf([]interface{}{"-", 1, 10}),
		tup(3), nil, 1)
	require.Equal(t, tup(-7), out)
}

func TestArithDecimal(t *testing.T) {
	d := func(s string) decimal.Decimal {
		v, err := decimal.NewFromString(s)
		require.NoError(t, err)
		return v
	}
	out, _ := exec(t,
		exprOf([]interface{}{"+", 1, d("0.1")}),
		tup(d("1.2")), nil, 1)
	require.Equal(t, tup(d("1.3")), out)

	// Mixed int/decimal converts to decimal.
	out, _ = exec(t,
		exprOf([]interface{}{"-", 1, d("0.5")}),
		tup(2), nil, 1)
	require.Equal(t, tup(d("1.5")), out)
}

func TestArithIntegerOverflow(t *testing.T) {
	err := execErr(t,
		exprOf([]interface{}{"+", 1, 1}),
		tup(^uint64(0)), nil, 1)
	require.Equal(t, tuple.ErrUpdateIntegerOverflow, tuple.CodeOf(err))
}

func TestArithUnderflow(t *testing.T) {
	_, _, err := Execute(
		exprOf([]interface{}{"-", 1, 2}),
		tup(raw(mp(int64(-1<<63)))), nil, 1, nil)
	require.Error(t, err)
	require.Equal(t, tuple.ErrUpdateIntegerOverflow, tuple.CodeOf(err))
}

func TestArithArgTypeMismatch(t *testing.T) {
	err := execErr(t,
		exprOf([]interface{}{"+", 1, 1}),
		tup("str"), nil, 1)
	require.Equal(t, tuple.ErrUpdateArgType, tuple.CodeOf(err))
}

func TestDoubleUpdateFails(t *testing.T) {
	err := execErr(t,
		exprOf(
			[]interface{}{"+", 1, 1},
			[]interface{}{"+", 1, 1},
		),
		tup(1), nil, 1)
	require.Equal(t, tuple.ErrDoubleUpdate, tuple.CodeOf(err))
}

func TestSecondSetWins(t *testing.T) {
	out, _ := exec(t,
		exprOf(
			[]interface{}{"=", 1, 10},
			[]interface{}{"=", 1, 20},
		),
		tup(1), nil, 1)
	require.Equal(t, tup(20), out)
}

func TestUnknownOpAndBadShapes(t *testing.T) {
	err := execErr(t, exprOf([]interface{}{"?", 1, 1}), tup(1), nil, 1)
	require.Equal(t, tuple.ErrUnknownUpdateOp, tuple.CodeOf(err))

	// Wrong arg count for splice.
	err = execErr(t, exprOf([]interface{}{":", 1, 1}), tup("x"), nil, 1)
	require.Equal(t, tuple.ErrUnknownUpdateOp, tuple.CodeOf(err))

	// Ops must be an array of arrays.
	_, _, err2 := Execute(mp(1), tup(1), nil, 1, nil)
	require.Error(t, err2)
	require.Equal(t, tuple.ErrIllegalParams, tuple.CodeOf(err2))
}

func TestCheckOps(t *testing.T) {
	require.NoError(t, CheckOps(exprOf(
		[]interface{}{"=", 1, "x"},
		[]interface{}{"#", -1, 1},
	), nil, 1))

	err := CheckOps(exprOf([]interface{}{"q", 1, 1}), nil, 1)
	require.Error(t, err)
	require.Equal(t, tuple.ErrUnknownUpdateOp, tuple.CodeOf(err))

	// Trailing bytes after the last op.
	expr := exprOf([]interface{}{"=", 1, 1})
	expr = append(expr, mp(7)...)
	err = CheckOps(expr, nil, 1)
	require.Equal(t, tuple.ErrIllegalParams, tuple.CodeOf(err))
}

func TestFieldZeroWithOneBasedIndex(t *testing.T) {
	err := execErr(t,
		exprOf([]interface{}{"=", 0, 1}),
		tup(1), nil, 1)
	require.Equal(t, tuple.ErrNoSuchFieldNo, tuple.CodeOf(err))
}

func TestDictionaryAddressing(t *testing.T) {
	dict := tuple.NewDictionary([]string{"id", "name", "count"})
	out, mask := exec(t,
		exprOf([]interface{}{"+", "count", 5}),
		tup(7, "x", 10), dict, 1)
	require.Equal(t, tup(7, "x", 15), out)
	require.True(t, mask.Covers(2))

	err := execErr(t,
		exprOf([]interface{}{"=", "missing", 1}),
		tup(7, "x", 10), dict, 1)
	require.Equal(t, tuple.ErrNoSuchFieldName, tuple.CodeOf(err))
}

func TestMapSetMissingKeyInserts(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	// The promoted insertion lands ahead of the untouched pairs.
	out, _ := exec(t,
		exprOf([]interface{}{"=", "a.newkey", 1}),
		tup(M{{"k", 0}}), dict, 1)
	require.Equal(t, tup(M{{"newkey", 1}, {"k", 0}}), out)
}

func TestMapInsertDuplicateFails(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	err := execErr(t,
		exprOf([]interface{}{"!", "a.k", 1}),
		tup(M{{"k", 0}}), dict, 1)
	require.Equal(t, tuple.ErrDuplicate, tuple.CodeOf(err))
}

func TestMapDelete(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	out, _ := exec(t,
		exprOf([]interface{}{"#", "a.x", 1}),
		tup(M{{"x", 1}, {"y", 2}}), dict, 1)
	require.Equal(t, tup(M{{"y", 2}}), out)

	// Map deletions are one pair at a time.
	err := execErr(t,
		exprOf([]interface{}{"#", "a.x", 2}),
		tup(M{{"x", 1}, {"y", 2}}), dict, 1)
	require.Equal(t, tuple.ErrUpdateField, tuple.CodeOf(err))
}

func TestPathArrayAppend(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	out, _ := exec(t,
		exprOf([]interface{}{"=", "a[3]", 30}),
		tup([]interface{}{1, 2}), dict, 1)
	require.Equal(t, tup([]interface{}{1, 2, 30}), out)
}

func TestPathArrayInsertAndDelete(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	out, _ := exec(t,
		exprOf([]interface{}{"!", "a[1]", 0}),
		tup([]interface{}{1, 2}), dict, 1)
	require.Equal(t, tup([]interface{}{0, 1, 2}), out)

	out, _ = exec(t,
		exprOf([]interface{}{"#", "a[1]", 5}),
		tup([]interface{}{1, 2, 3}), dict, 1)
	require.Equal(t, tup([]interface{}{}), out)
}

func TestPathArithAndSplice(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	out, _ := exec(t,
		exprOf([]interface{}{"+", "a.n", 5}),
		tup(M{{"n", 10}}), dict, 1)
	require.Equal(t, tup(M{{"n", 15}}), out)

	out, _ = exec(t,
		exprOf([]interface{}{":", "a.s", 1, 1, "Z"}),
		tup(M{{"s", "abc"}}), dict, 1)
	require.Equal(t, tup(M{{"s", "Zbc"}}), out)
}

func TestSharedPrefixBranching(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	record := tup(M{{"b", []interface{}{1, 2}}, {"c", 3}})

	// Zero common prefix: the field root transforms into a map.
	out, _ := exec(t,
		exprOf(
			[]interface{}{"=", "a.b[1]", 7},
			[]interface{}{"=", "a.c", 8},
		),
		record, dict, 1)
	require.Equal(t, tup(M{{"b", []interface{}{7, 2}}, {"c", 8}}), out)
}

func TestSharedPrefixRoute(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	record := tup(M{{"m", M{{"x", 1}, {"y", 2}}}})

	// Common prefix ".m": a route node forms above the branch.
	out, _ := exec(t,
		exprOf(
			[]interface{}{"=", "a.m.x", 10},
			[]interface{}{"=", "a.m.y", 20},
		),
		record, dict, 1)
	require.Equal(t, tup(M{{"m", M{{"x", 10}, {"y", 20}}}}), out)
}

func TestThreeOpsSamePrefix(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	record := tup(M{{"m", M{{"x", 1}, {"y", 2}, {"z", 3}}}})
	out, _ := exec(t,
		exprOf(
			[]interface{}{"=", "a.m.x", 10},
			[]interface{}{"=", "a.m.y", 20},
			[]interface{}{"+", "a.m.z", 30},
		),
		record, dict, 1)
	require.Equal(t, tup(M{{"m", M{{"x", 10}, {"y", 20}, {"z", 33}}}}), out)
}

func TestSamePathTwiceFails(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	err := execErr(t,
		exprOf(
			[]interface{}{"=", "a.b", 1},
			[]interface{}{"=", "a.b", 2},
		),
		tup(M{{"b", 0}}), dict, 1)
	require.Equal(t, tuple.ErrDoubleUpdate, tuple.CodeOf(err))
}

func TestTerminalOpOverPathEditFails(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	// A path edit under field 1 and a terminal arith on field 1.
	err := execErr(t,
		exprOf(
			[]interface{}{"=", "a.b", 1},
			[]interface{}{"+", 1, 1},
		),
		tup(M{{"b", 0}}), dict, 1)
	require.Equal(t, tuple.ErrDoubleUpdate, tuple.CodeOf(err))
}

func TestPrefixPathsUnsupported(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	// One path is a proper prefix of the other.
	err := execErr(t,
		exprOf(
			[]interface{}{"=", "a.b.c", 1},
			[]interface{}{"=", "a.b", 2},
		),
		tup(M{{"b", M{{"c", 0}}}}), dict, 1)
	require.Equal(t, tuple.ErrUnsupported, tuple.CodeOf(err))
}

func TestPathMissingIntermediate(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	err := execErr(t,
		exprOf([]interface{}{"=", "a.b.c", 1}),
		tup(M{{"x", 0}}), dict, 1)
	require.Equal(t, tuple.ErrNoSuchFieldName, tuple.CodeOf(err))
}

func TestBadJSONPath(t *testing.T) {
	dict := tuple.NewDictionary([]string{"a"})
	err := execErr(t,
		exprOf([]interface{}{"=", "a..b", 1}),
		tup(M{{"b", 0}}), dict, 1)
	require.Equal(t, tuple.ErrBadJSONPath, tuple.CodeOf(err))
}

func TestUpsertSkipsBadOps(t *testing.T) {
	out, _, err := ExecuteUpsert(
		exprOf(
			[]interface{}{"+", 1, 1},     // ok
			[]interface{}{"+", 2, 1},     // arg type error: skipped
			[]interface{}{"=", 3, "new"}, // ok
		),
		tup(1, "str", "old"), nil, 1, true, nil, nil)
	require.NoError(t, err)
	require.Equal(t, tup(2, "str", "new"), out)
}

func TestUpsertDecodeErrorStillFatal(t *testing.T) {
	_, _, err := ExecuteUpsert(
		exprOf([]interface{}{"?", 1, 1}),
		tup(1), nil, 1, true, nil, nil)
	require.Error(t, err)
}

func TestColumnMaskNegativeAddressing(t *testing.T) {
	// ['=',-1,..] on a 3-field record touches field 2.
	_, mask := exec(t,
		exprOf([]interface{}{"=", -1, 9}),
		tup(1, 2, 3), nil, 1)
	require.True(t, mask.Covers(2))
	require.False(t, mask.Covers(1))

	// Wide field numbers saturate into the wildcard bit.
	_, mask = exec(t,
		exprOf([]interface{}{"=", 64, 1}),
		wideTuple(70), nil, 1)
	require.True(t, mask.Covers(63))
	require.True(t, mask.Covers(100))
}

func wideTuple(n int) []byte {
	fields := make([]interface{}, n)
	for i := range fields {
		fields[i] = i
	}
	return tup(fields...)
}

func TestSquashScenario(t *testing.T) {
	left := exprOf(
		[]interface{}{"+", 2, 1},
		[]interface{}{"=", 3, "x"},
	)
	right := exprOf(
		[]interface{}{"-", 2, 4},
		[]interface{}{"=", 3, "y"},
	)
	out, err := Squash(left, right, nil, 1)
	require.NoError(t, err)
	require.Equal(t, exprOf(
		[]interface{}{"-", 2, 3},
		[]interface{}{"=", 3, "y"},
	), out)
}

func TestSquashDisjointFields(t *testing.T) {
	left := exprOf([]interface{}{"+", 2, 1})
	right := exprOf([]interface{}{"+", 3, 2})
	out, err := Squash(left, right, nil, 1)
	require.NoError(t, err)
	require.Equal(t, exprOf(
		[]interface{}{"+", 2, 1},
		[]interface{}{"+", 3, 2},
	), out)
}

func TestSquashFoldsArith(t *testing.T) {
	left := exprOf([]interface{}{"+", 2, 10})
	right := exprOf([]interface{}{"+", 2, 5})
	out, err := Squash(left, right, nil, 1)
	require.NoError(t, err)
	require.Equal(t, exprOf([]interface{}{"+", 2, 15}), out)

	// Left '-' folds by inversion.
	left = exprOf([]interface{}{"-", 2, 10})
	right = exprOf([]interface{}{"+", 2, 4})
	out, err = Squash(left, right, nil, 1)
	require.NoError(t, err)
	require.Equal(t, exprOf([]interface{}{"-", 2, 6}), out)
}

func TestSquashPreconditions(t *testing.T) {
	// Opcode outside =,+,-.
	_, err := Squash(
		exprOf([]interface{}{"&", 2, 1}),
		exprOf(), nil, 1)
	require.Error(t, err)

	// Field numbers must be strictly increasing.
	_, err = Squash(
		exprOf([]interface{}{"+", 3, 1}, []interface{}{"+", 2, 1}),
		exprOf(), nil, 1)
	require.Error(t, err)

	// '=' amended by arithmetic cannot fold.
	_, err = Squash(
		exprOf([]interface{}{"=", 2, 1}),
		exprOf([]interface{}{"+", 2, 1}), nil, 1)
	require.Error(t, err)
}

func TestSizeAccounting(t *testing.T) {
	// finish panics if the size pass and emit pass disagree, so a
	// pile of heterogeneous updates passing is the assertion.
	dict := tuple.NewDictionary([]string{"a", "b", "c"})
	record := tup(
		M{{"m", M{{"x", 1}}}, {"arr", []interface{}{1, 2, 3}}},
		[]interface{}{"a", "bb", "ccc"},
		"splice-me",
		7,
	)
	expr := exprOf(
		[]interface{}{"=", "a.m.x", "longer value"},
		[]interface{}{"!", "a.arr[1]", 0},
		[]interface{}{"#", "b[2]", 1},
		[]interface{}{":", "c", 2, 3, "ZZZZZZ"},
		[]interface{}{"+", 4, 1000},
		[]interface{}{"!", 5, M{{"new", "map"}}},
	)
	out, _, err := Execute(expr, record, dict, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
