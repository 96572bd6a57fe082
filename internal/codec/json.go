package codec

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/n0madic/go-llmportal/internal/apierr"
)

// ErrorBody is the JSON error envelope written by the HTTP API.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a plain error envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{Message: message}})
}

// WriteAPIError maps err onto a status and envelope. Unclassified errors are 500s.
func WriteAPIError(w http.ResponseWriter, err error) {
	var e *apierr.Error
	if errors.As(err, &e) {
		WriteJSON(w, e.HTTPStatus(), ErrorBody{Error: ErrorDetail{
			Message:  err.Error(),
			Type:     string(e.Kind),
			Endpoint: e.Endpoint,
		}})
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}
