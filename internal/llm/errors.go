package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ServiceError wraps a failure talking to the embedding or completion
// service. Retryable errors (network, rate limit, timeouts) may be retried;
// fatal ones (bad credentials, invalid input) abort the operation.
type ServiceError struct {
	Op        string // "embed", "embed_query", "generate", "stream"
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s: %s service error: %v", e.Op, kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// fatalPatterns mark errors that no retry will fix.
var fatalPatterns = []string{
	"api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
	"invalid request",
	"credit balance",
	"billing",
	"quota exceeded",
}

// isFatalAPIError reports whether the error indicates a permanent failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapServiceError classifies err as retryable or fatal. Timeouts and
// network failures are retryable unless a fatal pattern matches.
func wrapServiceError(op string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return &ServiceError{Op: op, Retryable: false, Err: err}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return &ServiceError{Op: op, Retryable: true, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"rate limit", "429", "timeout", "connection", "temporarily", "502", "503", "overloaded"} {
		if strings.Contains(msg, p) {
			return &ServiceError{Op: op, Retryable: true, Err: err}
		}
	}

	return &ServiceError{Op: op, Retryable: false, Err: err}
}
