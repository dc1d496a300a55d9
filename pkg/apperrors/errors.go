// Package apperrors defines the two error classes that cross the HTTP boundary:
// ClientError for rejected requests (4xx) and ServerError for configuration or
// infrastructure failures (5xx).
package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ClientError is returned for any request rejected at validation or dispatch.
// Subcode is set when a caller may need to branch on the failure reason.
type ClientError struct {
	StatusCode int    `json:"code"`
	Message    string `json:"message"`
	Subcode    string `json:"subcode,omitempty"`
}

func (e *ClientError) Error() string {
	if e.Subcode != "" {
		return fmt.Sprintf("client error %d (%s): %s", e.StatusCode, e.Subcode, e.Message)
	}
	return fmt.Sprintf("client error %d: %s", e.StatusCode, e.Message)
}

// NewClientError creates a ClientError with the given status code.
func NewClientError(statusCode int, format string, args ...any) *ClientError {
	return &ClientError{StatusCode: statusCode, Message: fmt.Sprintf(format, args...)}
}

// WithSubcode returns a copy of e carrying the machine readable subcode.
func (e *ClientError) WithSubcode(subcode string) *ClientError {
	c := *e
	c.Subcode = subcode
	return &c
}

// ServerError is a configuration or infrastructure failure. A zero Code is
// reported as 500.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *ServerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("server error %d: %s: %v", e.status(), e.Message, e.cause)
	}
	return fmt.Sprintf("server error %d: %s", e.status(), e.Message)
}

func (e *ServerError) Unwrap() error { return e.cause }

func (e *ServerError) status() int {
	if e.Code == 0 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// NewServerError creates a ServerError with status 500.
func NewServerError(format string, args ...any) *ServerError {
	return &ServerError{Code: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...)}
}

// WrapServerError creates a ServerError that keeps err as its cause.
func WrapServerError(err error, format string, args ...any) *ServerError {
	return &ServerError{Code: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...), cause: err}
}

// IsClientError reports whether err is, or wraps, a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// StatusCode maps err to the HTTP status that should be returned for it.
func StatusCode(err error) int {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.status()
	}
	return http.StatusInternalServerError
}

// WriteHTTP serializes err with the shape matching its class.
func WriteHTTP(w http.ResponseWriter, err error) {
	status := StatusCode(err)

	var body any
	var ce *ClientError
	var se *ServerError
	switch {
	case errors.As(err, &ce):
		body = ce
	case errors.As(err, &se):
		body = struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: status, Message: se.Message}
	default:
		body = struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: status, Message: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
