package rainclassroom

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnavailable = errors.New("rainclassroom: host unreachable or transport failure")
	ErrHTTPStatus  = errors.New("rainclassroom: unexpected http status")
	ErrBusiness    = errors.New("rainclassroom: request rejected by platform")
	ErrBadResponse = errors.New("rainclassroom: invalid response format or malformed data")
	ErrTimeout     = errors.New("rainclassroom: request timed out")
	ErrCircuitOpen = errors.New("rainclassroom: circuit breaker is open")
)

// RemoteError wraps a sentinel with the context of the failed call.
type RemoteError struct {
	Sentinel  error
	Operation string
	Status    int
	// Code and Message carry the business status from the response envelope.
	Code    string
	Message string
	Err     error // Nested lower-level error (e.g. net.Error)
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Code != "" || e.Message != "" {
		msg = fmt.Sprintf("%s: code=%s msg=%q", msg, e.Code, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the sentinel and the nested cause.
func (e *RemoteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Sentinel != nil {
		errs = append(errs, e.Sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// outage reports whether err says the platform itself is unhealthy.
// Business rejections and 4xx answers prove the host is up.
func (e *RemoteError) outage() bool {
	switch {
	case errors.Is(e.Err, context.Canceled):
		return false
	case e.Sentinel == ErrUnavailable, e.Sentinel == ErrTimeout:
		return true
	case e.Sentinel == ErrHTTPStatus:
		return e.Status >= 500
	}
	return false
}

func transportError(operation string, err error) *RemoteError {
	sentinel := ErrUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		sentinel = ErrTimeout
	}
	return &RemoteError{Sentinel: sentinel, Operation: operation, Err: err}
}
