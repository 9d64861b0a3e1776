// Package apierr defines the gateway's error taxonomy. Translators never
// return these directly; adapters wrap vendor transport failures as
// UpstreamError, the balancing policies convert per-attempt failures into
// cooldown state and surface only terminal errors.
package apierr

import (
	"errors"
	"fmt"
)

// Wire error types used in the JSON error envelope.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeModelNotFound  = "model_not_found"
	TypeAPIError       = "api_error"
	TypeGatewayError   = "gateway_error"
	TypeBackendError   = "backend_error"
)

// InvalidRequestError marks a client-correctable request problem.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return e.Message
}

// InvalidRequest builds an InvalidRequestError.
func InvalidRequest(format string, args ...any) error {
	return &InvalidRequestError{Message: fmt.Sprintf(format, args...)}
}

// ModelNotFoundError marks a routing failure: no registry entry, capability
// match, or default resolved the requested model.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("no backend found for model %q", e.Model)
}

// UpstreamError wraps a vendor HTTP non-2xx status or malformed vendor
// payload with enough context for operator diagnosis.
type UpstreamError struct {
	Backend    string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("backend %s: upstream status %d: %s", e.Backend, e.StatusCode, body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// BackendUnavailableError reports that every resilience-layer candidate was
// exhausted. LastErr always names the error that caused the final attempt to
// fail.
type BackendUnavailableError struct {
	Message string
	LastErr error
}

func (e *BackendUnavailableError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("%s: last error: %v", e.Message, e.LastErr)
	}
	return e.Message
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.LastErr
}

// TranslationError marks a defect: translation must be total for well-formed
// canonical input.
type TranslationError struct {
	Dialect string
	Err     error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %s: %v", e.Dialect, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// WireType maps an error to its JSON envelope type string.
func WireType(err error) string {
	var invalid *InvalidRequestError
	var notFound *ModelNotFoundError
	var upstream *UpstreamError
	var unavailable *BackendUnavailableError

	switch {
	case errors.As(err, &invalid):
		return TypeInvalidRequest
	case errors.As(err, &notFound):
		return TypeModelNotFound
	case errors.As(err, &upstream):
		return TypeAPIError
	case errors.As(err, &unavailable):
		return TypeBackendError
	default:
		return TypeGatewayError
	}
}
