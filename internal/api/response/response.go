// Package response writes the JSON envelopes shared by every AdScope
// endpoint: success payloads under "data", failures under "error" with a
// stable machine-readable code.
package response

import (
	"encoding/json"
	"net/http"
)

type payload struct {
	Data any `json:"data"`
}

type errorPayload struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data in the success envelope with status 200.
func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, payload{Data: data})
}

// Created writes data in the success envelope with status 201.
func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, payload{Data: data})
}

// Error writes the failure envelope. Code is a stable identifier clients can
// switch on (INVALID_REQUEST, INSUFFICIENT_CREDITS, ...); details carries
// endpoint-specific context, such as the top-up offers on a 402.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, errorPayload{Error: apiError{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
