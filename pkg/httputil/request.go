package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20 // 1 MiB

// ParseJSON decodes the request body into v, rejecting unknown fields
// and bodies larger than 1 MiB.
func ParseJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// PathInt64 extracts a path variable registered on the mux route and
// parses it as an int64.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid path parameter %q: %w", name, err)
	}
	return value, nil
}

// PathString extracts a path variable registered on the mux route.
func PathString(r *http.Request, name string) (string, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok || raw == "" {
		return "", fmt.Errorf("missing path parameter %q", name)
	}
	return raw, nil
}

// QueryInt parses an optional integer query parameter, returning
// fallback when the parameter is absent or malformed.
func QueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// QueryString returns an optional string query parameter, or fallback
// when absent.
func QueryString(r *http.Request, name, fallback string) string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	return raw
}
