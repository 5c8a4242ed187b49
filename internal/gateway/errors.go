package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// ErrorKind is the failure taxonomy of gateway calls.
type ErrorKind int

const (
	// KindTransport means no usable response was received.
	KindTransport ErrorKind = iota
	// KindUnauthenticated means the gateway rejected the credentials.
	KindUnauthenticated
	// KindRejected means the gateway answered with a non-success status.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

// Error classifies gateway call failures.
type Error struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "gateway error")

	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets errors.Is(err, domain.ErrUnauthenticated) match auth failures.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == KindUnauthenticated && target == domain.ErrUnauthenticated
}

// IsUnauthenticated reports an auth failure. These are never retried.
func IsUnauthenticated(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind == KindUnauthenticated
	}
	return errors.Is(err, domain.ErrUnauthenticated)
}

// IsTransient reports whether a read should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsUnauthenticated(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

func statusError(op string, statusCode int, body string) *Error {
	kind := KindRejected
	if statusCode == http.StatusUnauthorized {
		kind = KindUnauthenticated
	}

	message := fmt.Sprintf("gateway returned status %d", statusCode)
	if body = strings.TrimSpace(body); body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}

	return &Error{
		Op:         op,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
