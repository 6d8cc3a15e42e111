package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"finsight/internal/core"
)

const (
	NetworkMessage   = "Network error. Please check your connection."
	NotFoundMessage  = "Transaction not found."
	NoSessionMessage = "No session"
)

var ErrNotFound = errors.New("transaction not found")

// BackendError is a failure reported by the store itself. Its message is
// shown to the user as is.
type BackendError struct {
	Op      string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NetworkError means the store could not be reached.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Classify wraps a raw adapter error into the ledger taxonomy. Errors that are
// already classified, not-found and context errors pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	var ne *NetworkError
	switch {
	case errors.As(err, &be), errors.As(err, &ne):
		return err
	case errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case IsConnectionError(err):
		return &NetworkError{Op: op, Err: err}
	default:
		return &BackendError{Op: op, Message: err.Error(), Err: err}
	}
}

// IsConnectionError reports whether err looks like a transport failure
// rather than a rejection by the store.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "no such host", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var be *BackendError
	var ne *NetworkError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return NotFoundMessage
	case core.IsValidationError(err):
		return err.Error()
	case errors.As(err, &ne):
		return NetworkMessage
	case errors.As(err, &be):
		return be.Message
	default:
		return err.Error()
	}
}
