// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package outcome models the result of an authentication operation as a
// value rather than an error, so that expected business failures never
// travel through Go's error channel.
package outcome

// Kind discriminates an Outcome.
type Kind uint8

// Outcome kinds. The zero value is Error so that an uninitialised Outcome
// is never mistaken for a success.
const (
	Error Kind = iota
	Success
	Conflict
	NotFound
	InvalidCredentials
)

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case InvalidCredentials:
		return "invalid_credentials"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of an operation. Value is only meaningful when Kind
// is Success; Err is only set when Kind is Error.
type Outcome[T any] struct {
	Kind    Kind
	Message string
	Value   T
	Err     error

	hasValue bool
}

// Ok returns a successful outcome carrying v.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: Success, Value: v, hasValue: true}
}

// Done returns a successful outcome of an operation with no payload.
func Done() Outcome[struct{}] {
	return Outcome[struct{}]{Kind: Success}
}

// Fail returns a non-success outcome of the given kind. Passing Success
// is a programming error and yields an Error outcome instead.
func Fail[T any](kind Kind, message string) Outcome[T] {
	if kind == Success {
		kind = Error
	}
	return Outcome[T]{Kind: kind, Message: message}
}

// Errored returns an Error outcome wrapping err.
func Errored[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: Error, Message: "internal error", Err: err}
}

// OK reports whether the outcome is a success.
func (o Outcome[T]) OK() bool {
	return o.Kind == Success
}

// HasValue reports whether a payload is present.
func (o Outcome[T]) HasValue() bool {
	return o.hasValue
}

// Get returns the payload and whether it is present.
func (o Outcome[T]) Get() (T, bool) {
	return o.Value, o.hasValue
}
