package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/modelgate/modelgate/internal/apierr"
)

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// statusFor maps the wire error type to an HTTP status.
func statusFor(wireType string) int {
	switch wireType {
	case apierr.TypeInvalidRequest:
		return http.StatusBadRequest
	case apierr.TypeModelNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the JSON error envelope and returns the status
// written, for metrics labels.
func (g *Gateway) writeError(w http.ResponseWriter, err error) int {
	wireType := apierr.WireType(err)
	status := statusFor(wireType)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Type:    wireType,
		Message: err.Error(),
	}}); encErr != nil {
		g.logger.Error("Failed to write error response", "error", encErr)
	}
	return status
}
