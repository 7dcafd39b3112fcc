package utils

import (
	"encoding/json"
	"net/http"
)

const maxBodyBytes = 1 << 20

// ParseJSON decodes a JSON request body of at most 1 MiB.
func ParseJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
