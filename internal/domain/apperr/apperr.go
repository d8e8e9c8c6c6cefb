// Package apperr defines the error taxonomy shared by the domain services.
// Domain packages declare their sentinel errors as *Error values so the HTTP
// layer can map them to status codes without knowing every sentinel.
package apperr

import "github.com/go-faster/errors"

// Kind classifies an error by how it is surfaced to the caller.
type Kind int

const (
	// Internal is the zero Kind: the error is not classified.
	Internal Kind = iota
	// BadRequest covers invalid input or an operation illegal for the caller's data.
	BadRequest
	// NotFound covers missing carts, orders, payments and listings.
	NotFound
	// Forbidden covers actors that are neither buyer nor seller of an order.
	Forbidden
	// Conflict covers status transitions unreachable from the current state.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New returns a classified error with the given message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err under kind. Msg is what the client sees; err is kept
// for logs and errors.Is/As.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the client-facing message of the first *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
