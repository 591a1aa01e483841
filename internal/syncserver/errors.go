package syncserver

import (
	"encoding/json"
	"net/http"
)

// errorBody is the {"error": "..."} shape every 4xx/5xx response
// written by this package's handlers uses (§6). Responses produced by
// chi's Recoverer and Timeout middleware do not use it.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
