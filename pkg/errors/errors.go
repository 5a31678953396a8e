// Package errors implements the GraphLite error taxonomy: a small Kind
// enum plus a wrapping *Error, so pkg/coordinator can decide rollback
// behavior from a machine-readable kind instead of string matching.
package errors

import "fmt"

// Kind is the machine-readable error category carried at the public
// boundary. No stack traces cross this boundary.
type Kind string

const (
	Parse               Kind = "Parse"
	Validation           Kind = "Validation"
	Permission           Kind = "Permission"
	NoCurrentGraph       Kind = "NoCurrentGraph"
	NoCurrentSchema      Kind = "NoCurrentSchema"
	DDLInTransaction     Kind = "DDLInTransaction"
	Conflict             Kind = "Conflict"
	Runtime              Kind = "Runtime"
	Storage              Kind = "Storage"
	Cancelled            Kind = "Cancelled"
	Internal             Kind = "Internal"
	Unplanned            Kind = "Unplanned"
	AuthFailed           Kind = "AuthFailed"
	UserDisabled         Kind = "UserDisabled"
	CannotOpen           Kind = "CannotOpen"
	CorruptDatabase      Kind = "CorruptDatabase"
	IncompatibleVersion  Kind = "IncompatibleVersion"
)

// Error is the public error type returned from every coordinator operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a bare *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a bare *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an existing error as its cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err itself is a *Error of the given kind; a *Error
// wrapped inside another error is not found.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to Internal for foreign
// errors (an invariant violation by definition, since every path that can fail
// is expected to produce a *Error).
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}

// RollsBackTransaction reports whether an error of this kind, surfaced mid
// transaction, should mark the enclosing transaction for rollback. Parse/Validation never touch the transaction; Permission and
// the NoCurrent* kinds are raised before any write lands and also leave the
// transaction alone; DDLInTransaction is raised before the DDL executes.
func RollsBackTransaction(kind Kind) bool {
	switch kind {
	case Parse, Validation, Permission, NoCurrentGraph, NoCurrentSchema, DDLInTransaction:
		return false
	default:
		return true
	}
}
