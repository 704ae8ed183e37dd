package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope of every API response.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func healthyResponse(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(msg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: msg}
}

func okResponse(data any) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errorResponse(msg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg}
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse(msg))
}
