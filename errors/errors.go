// Package errors is a thin wrapper over the `pkg/errors` package.  It
// guarantees an error chain carries exactly one stack trace:
//
// 1. Wrap and Wrapf only attach a stack trace if the wrapped error does not
// already contain one; otherwise they just prepend text to the message.
//
// 2. WithStack returns the error unmodified if it already contains a stack
// trace.

package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Cause retrieves the underlying cause of an error
func Cause(err error) error {
	return pkgerrors.Cause(err)
}

// Errorf formats an error
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// New creates a new error
func New(message string) error {
	return pkgerrors.New(message)
}

func Wrap(err error, message string) error {
	if _, ok := err.(stackTracer); !ok {
		return pkgerrors.Wrap(err, message)
	} else {
		msg := err.Error() + ": " + message
		return pkgerrors.WithMessage(err, msg)
	}
}

func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

func WithStack(err error) error {
	if _, ok := err.(stackTracer); !ok {
		return pkgerrors.WithStack(err)
	} else {
		return err
	}
}

func HasStackTrace(err error) bool {
	_, ok := err.(stackTracer)
	return ok
}
