// Package httpapi is the JSON-over-HTTP surface of the runtime: agent
// CRUD and function execution, workflow registration and control,
// system status, metrics, and the SSE/WebSocket event streams. Handlers
// are plain structs registered on a net/http mux; everything speaks
// UTF-8 JSON and every error body has the shape
// {"error": {"type", "message", "code"}}.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error type labels carried in error envelopes.
const (
	errTypeValidation       = "validation_error"
	errTypeNotFound         = "not_found"
	errTypeConflict         = "conflict"
	errTypeMethodNotAllowed = "method_not_allowed"
	errTypeInternal         = "internal_error"
)

// maxBodyBytes bounds request bodies; workflow definitions are the
// largest legitimate payload and stay far below this.
const maxBodyBytes = 4 << 20

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, format string, args ...interface{}) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Code:    status,
	}})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, errTypeMethodNotAllowed, "method not allowed")
}

// decodeJSON parses the request body into dst, rejecting unknown
// payload sizes and trailing garbage.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}
