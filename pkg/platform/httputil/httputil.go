// Package httputil holds JSON request/response helpers shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"botgate/pkg/platform/sentinel"
)

// MaxBodyBytes bounds every decoded request body.
const MaxBodyBytes = 16 << 10

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and writes {"ok":false}. The cause never
// reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), map[string]bool{"ok": false})
}

// StatusFor translates sentinel errors into HTTP statuses.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, sentinel.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, sentinel.ErrInvalidToken), errors.Is(err, sentinel.ErrAlreadyUsed):
		return http.StatusForbidden
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a bounded JSON body into out. Any problem with the body
// is reported as sentinel.ErrMalformed.
func DecodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", sentinel.ErrMalformed)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrMalformed, err)
	}
	return nil
}
