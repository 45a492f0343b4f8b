package http

import (
	"encoding/json"
	"fmt"
	"strings"

	nethttp "net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/lti-assistant/internal/ratelimit"
)

var validate = validator.New()

// decodeJSON reads a JSON body into v and validates its struct tags.
func decodeJSON(w nethttp.ResponseWriter, r *nethttp.Request, v any) error {
	dec := json.NewDecoder(nethttp.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func writeJSON(w nethttp.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers {"error": code, "message": msg}; msg may be empty.
func writeError(w nethttp.ResponseWriter, status int, code, msg string) {
	body := map[string]string{"error": code}
	if msg != "" {
		body["message"] = msg
	}
	writeJSON(w, status, body)
}

func writeHTML(w nethttp.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

// clientIP prefers the first X-Forwarded-For hop when the proxy is trusted.
func clientIP(r *nethttp.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	return ratelimit.ClientIP(r)
}
