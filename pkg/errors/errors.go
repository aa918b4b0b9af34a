// Package errors defines the sentinel errors shared across the service and
// AppError, which attaches a client-facing message to a sentinel. The HTTP
// status and error code of a response are derived from the sentinel.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrUnavailable      = errors.New("service unavailable")
	ErrNotConfigured    = errors.New("not configured")
	ErrTimeout          = errors.New("operation timed out")
)

type class struct {
	status int
	code   string
}

// classes is checked in order; the first sentinel found in the chain wins.
var classes = []struct {
	target error
	class
}{
	{ErrDocumentNotFound, class{http.StatusNotFound, "not_found"}},
	{ErrInvalidInput, class{http.StatusBadRequest, "invalid_input"}},
	{ErrInvalidQuery, class{http.StatusBadRequest, "invalid_query"}},
	{ErrTimeout, class{http.StatusGatewayTimeout, "timeout"}},
	{context.DeadlineExceeded, class{http.StatusGatewayTimeout, "timeout"}},
	{ErrNotConfigured, class{http.StatusServiceUnavailable, "not_configured"}},
	{ErrUnavailable, class{http.StatusServiceUnavailable, "unavailable"}},
}

var internalClass = class{http.StatusInternalServerError, "internal"}

// AppError is an error whose Message is safe to show to API clients.
type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return e.Err.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New attaches message to sentinel.
func New(sentinel error, message string) *AppError {
	return &AppError{Err: sentinel, Message: message}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return New(sentinel, fmt.Sprintf(format, args...))
}

func classify(err error) class {
	for _, c := range classes {
		if errors.Is(err, c.target) {
			return c.class
		}
	}
	return internalClass
}

// HTTPStatusCode maps err to a response status.
func HTTPStatusCode(err error) int {
	return classify(err).status
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	return classify(err).code
}

// Message returns the client-facing text for err. Only AppError messages and
// 4xx errors are shown verbatim; anything else becomes the status text.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if status := HTTPStatusCode(err); status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}

// Body is the JSON error envelope returned by the API.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BodyOf builds the response envelope for err.
func BodyOf(err error) Body {
	return Body{Error: Message(err), Code: Code(err)}
}
