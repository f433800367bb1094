package errors

import (
	"fmt"
	"strings"
)

// Exception is the wire-stable error representation passed between the
// namespace session, the master, and the range locator. cause forms a
// singly-linked chain for nested failures (spec: Exception.cause).
type Exception struct {
	Code     Code
	Message  string
	File     string
	Function string
	Line     int
	Cause    *Exception
}

// New constructs a root Exception with no cause.
func New(code Code, message string) *Exception {
	return &Exception{Code: code, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Exception {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches cause as the Cause of a new Exception carrying code/message.
func Wrap(cause *Exception, code Code, message string) *Exception {
	return &Exception{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface. Rendering walks the chain, frame by
// frame, re-emitting the fixed error text for a frame only when its code
// differs from the parent frame's code (spec §7, scenario 2).
func (e *Exception) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Exception: %s - %s", e.Message, GetText(e.Code))
	prev := e.Code
	for c := e.Cause; c != nil; c = c.Cause {
		b.WriteString("\n  caused by: ")
		b.WriteString(c.Message)
		if c.Code != prev {
			b.WriteString(" - ")
			b.WriteString(GetText(c.Code))
		}
		prev = c.Code
	}
	return b.String()
}

// Unwrap lets Exception participate in errors.Is/errors.As chains built on
// the standard library, in addition to its own Cause-walking Error().
func (e *Exception) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether err is an *Exception carrying the same Code as e,
// allowing callers to test `errors.Is(err, errors.New(SomeCode, ""))`-style
// comparisons, though the idiomatic check is HasCode(err, code).
func (e *Exception) Is(target error) bool {
	t, ok := target.(*Exception)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HasCode reports whether err (an *Exception or nil) carries code.
func HasCode(err error, code Code) bool {
	e, ok := err.(*Exception)
	if !ok || e == nil {
		return false
	}
	return e.Code == code
}

// CodeOf extracts the Code from err, or OK if err is nil, or
// FAILED_EXPECTATION if err is a non-Exception error.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Exception); ok {
		return e.Code
	}
	return FAILED_EXPECTATION
}
