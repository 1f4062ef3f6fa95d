package application

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthorizationFailed is wrapped by AuthError when a host rejected every
// credential offered, or has already done so on an earlier connect.
var ErrAuthorizationFailed = errors.New("authorization failed")

// StatusError reports an HTTP response with a status of 400 or above.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected response status: " + e.Status
	}
	return fmt.Sprintf("unexpected response status: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// AuthError is returned by AuthConnector.Connect when no successful response
// could be obtained. StatusCode is the last HTTP status seen, or 0 when the
// failure was not an HTTP response.
type AuthError struct {
	Host                string
	StatusCode          int
	Attempts            int
	CredentialsRejected bool
	Err                 error
}

func (e *AuthError) Error() string {
	if e.CredentialsRejected {
		return fmt.Sprintf("connect %s: credentials rejected after %d attempts (status %d): %v",
			e.Host, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// statusCode extracts the HTTP status carried by err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
