package signaling

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrClosed         = errors.New("signaling channel closed")
	errMissingPayload = errors.New("missing payload")
)

// ErrorKind classifies signaling failures.
type ErrorKind int

const (
	ConnectFailed ErrorKind = iota
	Disconnected
	ProtocolViolation
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "connect_failed"
	case Disconnected:
		return "disconnected"
	case ProtocolViolation:
		return "protocol_violation"
	default:
		return "unknown"
	}
}

// Error is returned by every failing signaling operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("signaling %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectionError describes a rejected or failed websocket handshake.
// StatusCode is zero when no HTTP response was received.
type ConnectionError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect %s: %d %s: %v", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
