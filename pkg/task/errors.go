package task

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned by the adapters when a remote call fails. StatusCode
// is zero when no response was received.
type HTTPError struct {
	System     System
	Op         string
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.System, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %v", e.System, e.Op, e.StatusCode, e.Err)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether a remote system rejected the credential
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsFatal reports errors that a retry will not fix: bad ids, bad requests,
// missing permissions.
func IsFatal(err error) bool {
	switch StatusCode(err) {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// SystemOf returns the system that produced err, if known
func SystemOf(err error) (System, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.System, true
	}
	return "", false
}
