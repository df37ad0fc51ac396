package sse

import (
	"errors"
	"fmt"
)

// ErrNoContent is returned when the server answers 204 No Content, which is
// a permanent instruction to stop streaming. The client will not reconnect.
var ErrNoContent = errors.New("sse: endpoint returned 204, stream will not be retried")

// ErrReadTimeout indicates no bytes arrived within the configured read
// timeout. It is recoverable; the client reconnects after a backoff delay.
var ErrReadTimeout = errors.New("sse: read timeout elapsed with no data")

// ErrInvalidRedirect indicates a 3xx response with a missing or unparseable
// Location header, or a redirect of a non-redirectable request method. It is
// permanent.
var ErrInvalidRedirect = errors.New("sse: invalid redirect location")

// UnrecoverableStatusError is returned for HTTP statuses that indicate the
// request itself can never succeed, such as 401 or 403 for an invalid
// credential. The client stops permanently.
type UnrecoverableStatusError struct {
	Code int
}

func (e *UnrecoverableStatusError) Error() string {
	return fmt.Sprintf("sse: unrecoverable response status %d", e.Code)
}

// RetryableStatusError is returned for HTTP error statuses that are worth
// retrying, such as 408, 429 or any 5xx.
type RetryableStatusError struct {
	Code int
}

func (e *RetryableStatusError) Error() string {
	return fmt.Sprintf("sse: retryable response status %d", e.Code)
}

// IsRecoverable reports whether the client would reconnect after err.
func IsRecoverable(err error) bool {
	var unrecoverable *UnrecoverableStatusError
	if errors.As(err, &unrecoverable) {
		return false
	}
	return !errors.Is(err, ErrNoContent) && !errors.Is(err, ErrInvalidRedirect)
}
