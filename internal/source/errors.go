package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// ErrMalformedResponse marks a body that cannot be read as a page. It is never retried.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is a non-2xx answer from the remote API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API request failed with status: %d", e.StatusCode)
	}
	return fmt.Sprintf("API request failed with status: %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth another attempt: connection
// and DNS failures, timeouts, dropped bodies, 5xx and the throttling or
// timeout 4xx codes. Anything else, such as an unsupported scheme or a
// bad URL, fails the same way every time and is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
			return true
		}
		return se.StatusCode >= 500
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	var de *net.DNSError
	return errors.As(err, &de)
}
