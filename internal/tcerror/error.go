package tcerror

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type (
	// A TCError represents the error format that can be rendered by the timecapsule server.
	TCError struct {
		HTTPCode   int `json:"-"`
		FieldError err `json:"error"`
	}

	err struct {
		Tag     string `json:"tag,omitempty"`
		Message string `json:"message"`
	}

	// A ProviderError is a failure of an external collaborator (milestone provider, mail transport).
	// It is always recovered by the delivery pipeline.
	ProviderError struct {
		Service string
		Err     error
	}
)

// StatusCode returns the HTTP status code.
func StatusCode(err error) int {
	if tcerr, ok := errors.Cause(err).(*TCError); ok && tcerr.HTTPCode != 0 {
		return tcerr.HTTPCode
	}
	return http.StatusInternalServerError
}

// New returns a new TCError with the given message.
func New(message string) *TCError {
	return &TCError{FieldError: err{Message: message}}
}

// NewWithTagCode returns a new TCError with the given code, tag and message.
func NewWithTagCode(code int, tag, message string) *TCError {
	return &TCError{HTTPCode: code, FieldError: err{Tag: tag, Message: message}}
}

// Error implements error interface.
func (e *TCError) Error() string {
	return e.FieldError.Message
}

// NewProviderError wraps err as a failure of the given service.
func NewProviderError(service string, err error) *ProviderError {
	return &ProviderError{Service: service, Err: err}
}

// Error implements error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError returns true if err is or wraps a ProviderError.
func IsProviderError(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr)
}
