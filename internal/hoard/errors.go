package hoard

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the Engine matches exactly one of
// these through errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrPrecondition  = errors.New("precondition failed")
	ErrTool          = errors.New("tool failure")
	ErrIntegrity     = errors.New("integrity error")
	ErrIO            = errors.New("io error")
)

// Error carries the kind of failure together with the operation and item it
// happened on. Both the kind and the underlying cause are reachable through
// errors.Is and errors.As.
type Error struct {
	Kind error
	Op   string
	Item string
	Err  error
}

// NewError wraps err with a kind, operation and item name.
func NewError(kind error, op, item string, err error) *Error {
	return &Error{Kind: kind, Op: op, Item: item, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(kind error, op, item, format string, args ...any) *Error {
	return NewError(kind, op, item, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Item != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Item, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind sentinel of err, or nil if err carries none.
func KindOf(err error) error {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return nil
}
