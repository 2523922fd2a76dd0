// Package httputil carries the gateway's error taxonomy and the
// OpenAI-style error bodies clients expect.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// maxUpstreamExcerpt bounds how much of a broken upstream body an error
// message carries.
const maxUpstreamExcerpt = 500

// APIError is the gateway's single error currency. Every handler failure is
// one of these; anything else is wrapped as Internal before it reaches the
// client.
type APIError struct {
	Status   int       `json:"-"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	CapType  string    `json:"cap_type,omitempty"`
	Used     float64   `json:"used,omitempty"`
	Cap      float64   `json:"cap,omitempty"`
	ResetsAt time.Time `json:"resets_at,omitzero"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NoModelsAvailable signals an empty model snapshot.
func NoModelsAvailable() *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Type:    "no_models_available",
		Message: "no free models available from any source",
	}
}

// ModelNotFree rejects a request for a model outside the free snapshot.
func ModelNotFree(model string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Type:    "model_not_free",
		Message: fmt.Sprintf("model %q is not in the free model list", model),
	}
}

// APIKeyMissing signals a cloud source that cannot be used without a key.
func APIKeyMissing(provider string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Type:    "api_key_missing",
		Message: fmt.Sprintf("no API key configured for provider %q", provider),
	}
}

// UpstreamError wraps a transport failure talking to a provider.
func UpstreamError(provider string, err error) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Type:    "upstream_error",
		Message: fmt.Sprintf("upstream %s request failed: %v", provider, err),
	}
}

// UpstreamStatus wraps a non-2xx provider response, carrying a bounded
// excerpt of its body.
func UpstreamStatus(provider string, status int, body []byte) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Type:    "upstream_error",
		Message: fmt.Sprintf("upstream %s returned status %d: %s", provider, status, excerpt(body)),
	}
}

// ParseError wraps an upstream body the gateway could not decode.
func ParseError(provider string, body []byte) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Type:    "parse_error",
		Message: fmt.Sprintf("could not parse %s response: %s", provider, excerpt(body)),
	}
}

// SpendingCapExceeded rejects a judge evaluation that would cross a cap.
// CapType is "daily" or "monthly"; resetsAt is when that window rolls over.
func SpendingCapExceeded(capType string, used, cap float64, resetsAt time.Time) *APIError {
	return &APIError{
		Status:   http.StatusPaymentRequired,
		Type:     "spending_cap_exceeded",
		Message:  fmt.Sprintf("%s spending cap reached: $%.2f of $%.2f used", capType, used, cap),
		CapType:  capType,
		Used:     used,
		Cap:      cap,
		ResetsAt: resetsAt,
	}
}

// ConfigError signals invalid or unusable configuration.
func ConfigError(msg string) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Type:    "config_error",
		Message: msg,
	}
}

// BadRequest rejects a malformed client request.
func BadRequest(msg string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Type:    "invalid_request_error",
		Message: msg,
	}
}

// Internal wraps everything without a more specific classification.
func Internal(err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Type:    "internal_error",
		Message: err.Error(),
	}
}

func excerpt(body []byte) string {
	if len(body) > maxUpstreamExcerpt {
		body = body[:maxUpstreamExcerpt]
	}
	return string(body)
}

type errorBody struct {
	Error *APIError `json:"error"`
}

// WriteError renders an error as an OpenAI-compatible JSON body. Non-APIError
// values are reported as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*APIError)
	if !ok {
		apiErr = Internal(err)
	}
	WriteJSON(w, apiErr.Status, errorBody{Error: apiErr})
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
