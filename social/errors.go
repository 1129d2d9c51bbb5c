package social

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies a failure of a relationship or visibility operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidOperation
	KindConflict
	KindLimitExceeded
	KindForbidden
	KindNotFound
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidOperation:
		return "invalid_operation"
	case KindConflict:
		return "conflict"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is the typed error returned by every operation in this package.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

func newError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Sentinels for errors.Is checks by kind.
var (
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrLimitExceeded    = &Error{Kind: KindLimitExceeded}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnavailable      = &Error{Kind: KindUnavailable}
)

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the caller may retry the same request.
// Only store unavailability is retryable.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// storeError classifies a raw store failure. Duplicate keys become Conflict,
// everything else (timeouts, cancellations, broken connections, driver
// failures) becomes Unavailable.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if isUniqueViolation(err) {
		return &Error{Kind: KindConflict, Op: op, Msg: "relationship already exists", Err: err}
	}
	msg := "store unavailable"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "store timeout"
	case errors.Is(err, context.Canceled):
		msg = "request cancelled"
	case errors.Is(err, driver.ErrBadConn):
		msg = "store connection lost"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			msg = "store unreachable"
		}
	}
	return &Error{Kind: KindUnavailable, Op: op, Msg: msg, Err: err}
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
