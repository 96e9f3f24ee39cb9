// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package tuple holds the shared vocabulary of the tuple engine:
// the client error taxonomy, the column mask, the field-name
// dictionary and byte-level MsgPack utilities.
package tuple

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies one client error kind.
type Code int

const (
	ErrUnknown Code = iota
	ErrOutOfMemory
	ErrIllegalParams
	ErrUnknownUpdateOp
	ErrNoSuchFieldNo
	ErrNoSuchFieldName
	ErrUpdateArgType
	ErrUpdateIntegerOverflow
	ErrUpdateDecimalOverflow
	ErrUpdateSplice
	ErrUpdateField
	ErrBadJSONPath
	ErrDuplicate
	ErrDoubleUpdate
	ErrUnsupported
	ErrCancelled
	ErrSystem
	ErrTimeout
)

var codeNames = map[Code]string{
	ErrOutOfMemory:           "OutOfMemory",
	ErrIllegalParams:         "IllegalParams",
	ErrUnknownUpdateOp:       "UnknownUpdateOp",
	ErrNoSuchFieldNo:         "NoSuchFieldNo",
	ErrNoSuchFieldName:       "NoSuchFieldName",
	ErrUpdateArgType:         "UpdateArgType",
	ErrUpdateIntegerOverflow: "UpdateIntegerOverflow",
	ErrUpdateDecimalOverflow: "UpdateDecimalOverflow",
	ErrUpdateSplice:          "UpdateSplice",
	ErrUpdateField:           "UpdateField",
	ErrBadJSONPath:           "BadJSONPath",
	ErrDuplicate:             "Duplicate",
	ErrDoubleUpdate:          "DoubleUpdate",
	ErrUnsupported:           "Unsupported",
	ErrCancelled:             "Cancelled",
	ErrSystem:                "System",
	ErrTimeout:               "Timeout",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is a client error: a failure the caller provoked, carrying a
// taxonomy code. Anything else (allocation, I/O) is a plain error and
// is never suppressed by upsert mode.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// ClientErr builds an Error.
func ClientErr(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code, ErrUnknown for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// IsClientErr reports whether err carries a taxonomy code.
func IsClientErr(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
