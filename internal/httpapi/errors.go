package httpapi

import (
	"encoding/json"
	"net/http"

	"zord/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusError is an HTTPError whose message is shown to clients verbatim.
type statusError struct {
	msg    string
	code   int
	reason string
}

func (e statusError) Error() string   { return e.msg }
func (e statusError) StatusCode() int { return e.code }

// Reason is a short machine label used for backpressure metrics.
func (e statusError) Reason() string { return e.reason }

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// errorStatus maps err to a status code, defaulting to 500.
func errorStatus(err error) int {
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
