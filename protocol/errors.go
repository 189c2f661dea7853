package protocol

import (
	"errors"
	"fmt"
)

// Code is an RPC error code. It travels in the rpc_err flag bits of an ack and is
// returned as an error by decoding and dispatching functions.
type Code uint8

// RPC error codes.
const (
	CodeNone Code = iota
	CodeBadClass
	CodeBadSubtype
	CodeVersionMismatch
	CodeInternal
	CodeTimeout
	codeMax = 0xF // rpc_err is 4 bits wide
)

// Errors for each non-zero code, usable with errors.Is.
var (
	ErrBadClass        error = CodeBadClass
	ErrBadSubtype      error = CodeBadSubtype
	ErrVersionMismatch error = CodeVersionMismatch
	ErrInternal        error = CodeInternal
	ErrTimeout         error = CodeTimeout
)

var codeNames = [...]string{
	CodeNone:            "none",
	CodeBadClass:        "bad class of service",
	CodeBadSubtype:      "bad subtype",
	CodeVersionMismatch: "version mismatch",
	CodeInternal:        "internal error",
	CodeTimeout:         "timeout",
}

func (c Code) Error() string {
	if int(c) < len(codeNames) {
		return "rpc: " + codeNames[c]
	}
	return fmt.Sprintf("rpc: error %d", uint8(c))
}

// CodeOf extracts the Code carried by err. Errors that are not a Code map to CodeInternal,
// and nil maps to CodeNone.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return CodeInternal
}
