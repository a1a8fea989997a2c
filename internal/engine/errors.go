package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/voltchain/internal/ir"
)

// Code categorizes a rejected transition.
type Code string

const (
	// CodeUnauthorized indicates the caller does not own the record or is
	// not the pool authority.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeAlreadyExists indicates a creation targeted an occupied address.
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// CodeNotFound indicates a required record is absent, or a declared
	// address does not match the address the transition derives.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInsufficientBalance indicates a burn larger than the accrued balance.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// CodeInvalidState indicates a transition not allowed from the record's
	// current state (finalizing twice, settling an open sale, ...).
	CodeInvalidState Code = "INVALID_STATE"

	// CodeArithmeticOverflow indicates a checked add or subtract failed.
	CodeArithmeticOverflow Code = "ARITHMETIC_OVERFLOW"

	// CodeRecordBusy indicates a declared record is claimed by another
	// in-flight transition.
	CodeRecordBusy Code = "RECORD_BUSY"

	// CodeInvalidArgument indicates a malformed instruction.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// TransitionError is returned for every rejected transition.
//
// A rejected transition has no effect: no record writes and no notification.
type TransitionError struct {
	// Code identifies the error category.
	Code Code

	// Transition is the rejected transition.
	Transition ir.Transition

	// Address is the record that triggered the rejection, if any.
	Address ir.Address

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any (store errors).
	Err error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Transition != "" {
		msg = fmt.Sprintf("%s: %s", e.Transition, msg)
	}
	if e.Address != "" {
		msg = fmt.Sprintf("%s (record=%s)", msg, shortAddr(e.Address))
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Is matches any TransitionError with the same code, so the sentinels
// below work with errors.Is regardless of transition or address.
func (e *TransitionError) Is(target error) bool {
	var t *TransitionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors, one per code. Compare with errors.Is.
var (
	ErrUnauthorized        = &TransitionError{Code: CodeUnauthorized, Message: "caller is not authorized"}
	ErrAlreadyExists       = &TransitionError{Code: CodeAlreadyExists, Message: "record already exists"}
	ErrNotFound            = &TransitionError{Code: CodeNotFound, Message: "record not found"}
	ErrInsufficientBalance = &TransitionError{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrInvalidState        = &TransitionError{Code: CodeInvalidState, Message: "invalid state transition"}
	ErrArithmeticOverflow  = &TransitionError{Code: CodeArithmeticOverflow, Message: "arithmetic overflow"}
	ErrRecordBusy          = &TransitionError{Code: CodeRecordBusy, Message: "record busy"}
	ErrInvalidArgument     = &TransitionError{Code: CodeInvalidArgument, Message: "invalid argument"}
)

// IsCode reports whether err is a TransitionError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of a TransitionError in err's chain, or "".
func CodeOf(err error) Code {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func newError(code Code, t ir.Transition, addr ir.Address, format string, args ...any) *TransitionError {
	return &TransitionError{
		Code:       code,
		Transition: t,
		Address:    addr,
		Message:    fmt.Sprintf(format, args...),
	}
}

func shortAddr(a ir.Address) string {
	if len(a) <= 12 {
		return string(a)
	}
	return string(a[:12])
}
