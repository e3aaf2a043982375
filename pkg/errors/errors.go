package errors

import (
	"fmt"
)

// New creates a new error with the given message. It's a drop-in replacement
// for fmt.Errorf so that callers only need to import this package.
func New(format string, a ...interface{}) error {
	return fmt.Errorf(format, a...)
}

// contextError annotates an error with a short description of what was being
// done when it occurred.
type contextError struct {
	context string
	err     error
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

// Unwrap lets the standard library's errors.Is and errors.As see through the
// added context.
func (err contextError) Unwrap() error {
	return err.err
}

// WithContext wraps `err` with `context`. The returned error prints as
// "context: err".
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

// RootCause returns the innermost error that was wrapped by WithContext.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// FriendlyError is an error whose message is meant to be shown directly to
// the user, without any additional context.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(format string, a ...interface{}) error {
	return FriendlyError{fmt.Sprintf(format, a...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be shown to the user.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}
