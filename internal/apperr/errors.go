package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind discriminates the failure classes the pipeline reacts to
type Kind int

const (
	// KindFatal is an unclassified or non-retriable failure
	KindFatal Kind = iota
	// KindTimeout means a time budget was exhausted at some nesting level
	KindTimeout
	// KindRetriable is a transient upstream failure (429/500/503, network)
	KindRetriable
	// KindParse means the model output did not contain usable JSON
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRetriable:
		return "retriable"
	case KindParse:
		return "parse"
	default:
		return "fatal"
	}
}

// Error is the single error shape used across the pipeline
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout builds a KindTimeout error
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// Retriable builds a KindRetriable error
func Retriable(op string, status int, err error) *Error {
	return &Error{Kind: KindRetriable, Op: op, Status: status, Err: err}
}

// Fatal builds a KindFatal error
func Fatal(op string, status int, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Status: status, Err: err}
}

// Parse builds a KindParse error
func Parse(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// KindOf reports the kind of err. A bare context.DeadlineExceeded counts as a
// timeout; anything not carrying an *Error is fatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindFatal
}

// IsTimeout reports whether err is timeout-origin
func IsTimeout(err error) bool {
	return err != nil && KindOf(err) == KindTimeout
}

// IsRetriable reports whether err may be retried with backoff
func IsRetriable(err error) bool {
	return err != nil && KindOf(err) == KindRetriable
}

// RetriableStatus reports whether an HTTP status is worth retrying
func RetriableStatus(code int) bool {
	switch code {
	case 429, 500, 503:
		return true
	}
	return false
}
