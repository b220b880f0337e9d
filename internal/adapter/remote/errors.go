package remote

import (
	"errors"
	"fmt"

	"github.com/rl1809/stockgrid/internal/port"
)

var (
	ErrQuotaExceeded = port.ErrQuotaExceeded
	ErrBadRequest    = port.ErrBadRequest
	ErrRequestFailed = port.ErrRequestFailed
	ErrUnavailable   = port.ErrUnavailable

	// transient failures are retried and never leave the client on their own
	errServer         = errors.New("server error")
	errTransientParse = errors.New("malformed response body")
)

// HTTPError is a non-retriable client error; Body is kept for diagnostics.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote store responded %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return ErrBadRequest
}
