package callguard

import (
	"encoding/json"
	"errors"
	"net/http"
)

// CallResolver maps an HTTP request to the session and call it represents.
type CallResolver func(r *http.Request) (*Session, Call, error)

// Middleware returns an http.Handler that checks each request's tool call
// before passing it to next. Blocked requests receive a 403 with the
// violations; unresolvable or malformed requests receive a 400.
func (c *Client) Middleware(resolve CallResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, call, err := resolve(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		res, err := c.Check(r.Context(), s, call)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrContract) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		if !res.Executed {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"blocked":    true,
				"violations": res.Violations,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
