// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package kernel

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure by behavior. The wire layer maps
// kinds to HTTP statuses; the names never carry engine internals.
type Kind string

const (
	KindPolicy        Kind = "Policy"
	KindAuth          Kind = "Auth"
	KindBadRequest    Kind = "BadRequest"
	KindBadKeyType    Kind = "BadKeyType"
	KindConflict      Kind = "Conflict"
	KindNotFound      Kind = "NotFound"
	KindExpired       Kind = "Expired"
	KindExhausted     Kind = "Exhausted"
	KindNotAuthorized Kind = "NotAuthorized"
	KindInternal      Kind = "Internal"
)

// Error is a kernel failure with a classification and a caller-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kernel error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a kernel error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message of err. Internal failures get a
// fixed message so engine detail never reaches the wire.
func Message(err error) string {
	var ke *Error
	if errors.As(err, &ke) && ke.Kind != KindInternal {
		return ke.Msg
	}
	return "internal error"
}
