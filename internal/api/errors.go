package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	// RetryAfter is set on rate-limit errors, in whole seconds.
	RetryAfter int   `json:"retry_after,omitempty"`
	Err        error `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewForbiddenError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusForbidden))
	}
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    message,
	}
}

func NewTooManyRequestsError(retryAfter time.Duration) *ApiError {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "too many requests",
		RetryAfter: secs,
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}

func NewConflictError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    message,
	}
}
