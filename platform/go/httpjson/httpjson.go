// Package httpjson holds the JSON request/response helpers shared by the HTTP handlers.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Write renders v as application/json with status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Read decodes a single JSON object from the body into out. Unknown fields,
// trailing data and empty bodies fail with VALIDATION_FAILED.
func Read(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.ValidationFailed, "request body is required")
		}
		return apperr.Wrap(apperr.ValidationFailed, fmt.Sprintf("invalid request body: %v", err), err)
	}
	if dec.More() {
		return apperr.New(apperr.ValidationFailed, "request body must contain a single JSON object")
	}
	return nil
}

// QueryInt parses an integer query parameter, returning def when absent or malformed.
func QueryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// QueryBool parses a boolean query parameter, returning false when absent or malformed.
func QueryBool(r *http.Request, key string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && b
}
