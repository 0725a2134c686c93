package backend

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// UpstreamErrorKind classifies a failed upstream call
type UpstreamErrorKind int

const (
	// UpstreamUnavailable means no usable answer came back: the connection
	// failed, the deadline expired or the body could not be read.
	UpstreamUnavailable UpstreamErrorKind = iota + 1
	// UpstreamRejected means the provider answered, but with an error status or
	// a payload that could not be used.
	UpstreamRejected
)

func (k UpstreamErrorKind) String() string {
	switch k {
	case UpstreamUnavailable:
		return "upstream unavailable"
	case UpstreamRejected:
		return "upstream rejected"
	}
	return "upstream error"
}

// UpstreamError is returned by Completer implementations
type UpstreamError struct {
	Kind       UpstreamErrorKind
	StatusCode int
	Message    string
	// Timeout is set when the call was abandoned because its deadline expired
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Kind.String()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Cause() error { return e.Err }

// Retryable reports whether sending the same request again may succeed
func (e *UpstreamError) Retryable() bool {
	if e.Kind == UpstreamUnavailable {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func Unavailable(err error, msg string) *UpstreamError {
	return &UpstreamError{Kind: UpstreamUnavailable, Message: msg, Err: err}
}

func Rejected(status int, msg string, err error) *UpstreamError {
	return &UpstreamError{Kind: UpstreamRejected, StatusCode: status, Message: msg, Err: err}
}

// AsUpstreamError finds the first *UpstreamError in err's chain
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

func IsUnavailable(err error) bool {
	ue, ok := AsUpstreamError(err)
	return ok && ue.Kind == UpstreamUnavailable
}

func IsRejected(err error) bool {
	ue, ok := AsUpstreamError(err)
	return ok && ue.Kind == UpstreamRejected
}

// IsRetryable reports whether err is an *UpstreamError worth retrying
func IsRetryable(err error) bool {
	ue, ok := AsUpstreamError(err)
	return ok && ue.Retryable()
}
