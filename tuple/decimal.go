// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package tuple

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ExtDecimal is the extension type tag of decimal values.
const ExtDecimal int8 = 1

// DecimalMaxDigits bounds decimal precision; results that need more
// digits overflow.
const DecimalMaxDigits = 38

// decimalPayload is the canonical wire form of a decimal: its exact
// base-10 text. Parsing it back is lossless.
func decimalPayload(d decimal.Decimal) []byte {
	return []byte(d.String())
}

// SizeofDecimal is the encoded size of a decimal extension value.
func SizeofDecimal(d decimal.Decimal) int {
	return SizeofExt(len(decimalPayload(d)))
}

// AppendDecimal appends a decimal extension value.
func AppendDecimal(b []byte, d decimal.Decimal) []byte {
	return AppendExt(b, ExtDecimal, decimalPayload(d))
}

// ReadDecimal decodes a decimal extension value.
func ReadDecimal(b []byte) (decimal.Decimal, []byte, error) {
	typ, payload, rest, err := ReadExtHeader(b)
	if err != nil {
		return decimal.Decimal{}, b, err
	}
	if typ != ExtDecimal {
		return decimal.Decimal{}, b, errors.Errorf("extension type %d is not a decimal", typ)
	}
	d, err := decimal.NewFromString(string(payload))
	if err != nil {
		return decimal.Decimal{}, b, errors.Wrap(err, "decoding decimal payload")
	}
	return d, rest, nil
}

// DecimalDigits counts the significant digits of d's coefficient.
func DecimalDigits(d decimal.Decimal) int {
	s := d.Coefficient().Text(10)
	if len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	// A bare zero has no significant digits to overflow with.
	if s == "0" {
		return 1
	}
	return len(s)
}

// DecimalOverflows reports whether d exceeds the precision bound.
func DecimalOverflows(d decimal.Decimal) bool {
	return DecimalDigits(d) > DecimalMaxDigits
}
