package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any TimeoutError via errors.Is.
	ErrTimeout = errors.New("chat request timed out")

	// ErrNetwork matches ServerError and ConnectionError via errors.Is.
	ErrNetwork = errors.New("chat network error")
)

// Kind names one of the two transports.
type Kind string

const (
	KindStream   Kind = "stream"
	KindFallback Kind = "fallback"
)

// TimeoutError is returned when an attempt did not complete within the
// configured time budget. It is retryable.
type TimeoutError struct {
	Transport Kind
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out after %s", e.Transport, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ServerError is a non-success HTTP status returned by the chat API.
// Body holds whatever diagnostic text the server sent.
type ServerError struct {
	Transport  Kind
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrNetwork
}

// ConnectionError is a low-level failure establishing or maintaining a
// transport, including a stream that closed before its terminal event.
type ConnectionError struct {
	Transport Kind
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Transport, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrNetwork
}

// ProtocolError is a response the client could not accept: an explicit
// error event on the stream, a stream with the wrong content type, or a
// fallback body that is not a chat response.
type ProtocolError struct {
	Transport Kind
	Reason    string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s protocol error: %s: %v", e.Transport, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s protocol error: %s", e.Transport, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
