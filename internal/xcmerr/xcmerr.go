// Package xcmerr is the shared failure vocabulary for the validator, the
// relay router, and the execution engine. Callers only ever see a code and
// a short reason.
package xcmerr

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidPayload      Code = "InvalidPayload"
	UnknownParachain    Code = "UnknownParachain"
	VersionMismatch     Code = "VersionMismatch"
	InvalidSignature    Code = "InvalidSignature"
	HopTimeout          Code = "HopTimeout"
	HopFailure          Code = "HopFailure"
	InsufficientBalance Code = "InsufficientBalance"
	UnknownQuery        Code = "UnknownQuery"
)

type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Reason
}

func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, unwrapping as needed.
func CodeOf(err error) (Code, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Code, true
	}
	return "", false
}

func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
