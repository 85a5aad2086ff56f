package eldes

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrorKind classifies failures coming out of the cloud client.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindAuthentication
	KindTransient
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrTransient      = errors.New("service unavailable")
	ErrValidation     = errors.New("invalid response")
	ErrTimeout        = errors.New("request timed out")
)

// Error is returned by every Client, SessionManager and Transport operation.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	if e.Timeout {
		msg = fmt.Sprintf("%s: timed out", e.Op)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels against the error kind, so callers can
// use errors.Is(err, eldes.ErrAuthentication) and friends.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTimeout:
		return e.Timeout
	}
	return false
}

// KindOf returns the kind of err, looking through wrapped errors.
// Timeouts not produced by this package are still reported as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTransient
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, status int, err error) *Error {
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: status,
		Err:        err,
	}
}

// statusKind maps a non-2xx status code into an error kind.
func statusKind(status int) ErrorKind {
	switch {
	case status == 401, status == 403:
		return KindAuthentication
	case status == 408, status == 429, status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}
