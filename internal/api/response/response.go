package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes the API's machine-readable error shape.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	WriteJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// WriteDecision writes a broker callback decision as text/plain. The broker
// treats anything other than a body starting with "allow" as deny.
func WriteDecision(w http.ResponseWriter, allow bool) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if allow {
		w.Write([]byte("allow"))
	} else {
		w.Write([]byte("deny"))
	}
}
