// Package uerr defines the small, closed error taxonomy surfaced by the
// upload-files core: NotFound, Restricted, Frozen, AlreadyExists, Corrupt
// and IO. Every error the core returns either is, or wraps, one of these.
package uerr

import "fmt"

// Kind is one of the core's error kinds. Kind is not itself an error, so
// errors.Is cannot take it as a target: callers compare with Is(err, kind)
// or read it with KindOf.
type Kind string

const (
	NotFound      Kind = "not_found"
	Restricted    Kind = "restricted"
	Frozen        Kind = "frozen"
	AlreadyExists Kind = "already_exists"
	Corrupt       Kind = "corrupt"
	IO            Kind = "io"
)

// Error is the concrete error type returned by the core. Op names the
// failing operation (e.g. "staging.AddRawFiles"), Path is the upload- or
// raw-relative path involved, if any, and Err is the underlying cause for
// the IO kind (nil otherwise).
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Path != "":
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Path)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// New builds an *Error with no underlying cause, e.g. for validation
// failures detected by the core itself (malformed raw path, frozen
// staging, ...).
func New(op string, kind Kind, path string) *Error {
	return &Error{Op: op, Kind: kind, Path: path}
}

// Wrap builds an IO-kind *Error around a lower-level cause (os.*PathError,
// zip/archive corruption, ...) unless kind is given explicitly via WithKind.
func Wrap(op string, path string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Op: op, Kind: IO, Path: path, Err: err}
}

// WithKind builds an *Error of the given kind wrapping err.
func WithKind(op string, kind Kind, path string, err error) *Error {
	return &Error{Op: op, Kind: kind, Path: path, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
