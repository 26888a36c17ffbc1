package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRequestFailed is the sentinel wrapped by every *APIError.
var ErrRequestFailed = errors.New("api request failed")

// ErrorDetail is one entry of the envelope's "errors" array.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// String formats the detail as "<code>: <message>".
func (d ErrorDetail) String() string {
	return fmt.Sprintf("%d: %s", d.Code, d.Message)
}

// APIError is returned when the API reports "success": false, or when a
// non-2xx response carries no decodable envelope.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Errors holds the server-reported errors in the order received.
	Errors []ErrorDetail
}

// Error joins every "<code>: <message>" pair with newlines.
func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}

	lines := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

// Unwrap lets errors.Is(err, ErrRequestFailed) match.
func (e *APIError) Unwrap() error {
	return ErrRequestFailed
}
