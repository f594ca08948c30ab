package callguard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	c := newTestClient(t)
	sess, err := c.Begin(SessionInput{TaskID: "task-http", AllowedToolIDs: []any{"search"}})
	if err != nil {
		t.Fatal(err)
	}

	resolve := func(r *http.Request) (*Session, Call, error) {
		q := r.URL.Query().Get("q")
		if q == "" {
			return nil, Call{}, errors.New("missing q")
		}
		return sess, Call{
			ToolID:   r.URL.Path[1:],
			Ring:     1,
			Args:     map[string]any{"query": q},
			PorToken: *sess.PorToken,
		}, nil
	}
	handler := c.Middleware(resolve, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{"allowed", "/search?q=x", http.StatusOK},
		{"forbidden", "/deploy?q=x", http.StatusForbidden},
		{"unresolved", "/search", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusForbidden {
				var body struct {
					Blocked    bool        `json:"blocked"`
					Violations []Violation `json:"violations"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatal(err)
				}
				if !body.Blocked || len(body.Violations) != 1 {
					t.Errorf("unexpected body %+v", body)
				}
			}
		})
	}
}
