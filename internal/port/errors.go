package port

import "errors"

// Terminal outcomes of a call against the remote store.
var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrBadRequest    = errors.New("bad request")
	ErrRequestFailed = errors.New("request failed")
	ErrUnavailable   = errors.New("store unavailable")
)
