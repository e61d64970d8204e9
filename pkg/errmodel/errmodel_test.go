package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFromPassthroughAndWrap(t *testing.T) {
	orig := NotFound("capability missing", map[string]any{"name": "c1"})
	if got := From(orig); got != orig {
		t.Fatalf("From should return the same *Error, got %+v", got)
	}
	wrapped := From(errors.New("disk on fire"))
	if wrapped.Category != CategorySystem || wrapped.Code != "internal" {
		t.Fatalf("unexpected wrap: %+v", wrapped)
	}
}

func TestCategoriesAndStatus(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{Validation("bad_name", "nope", nil), http.StatusBadRequest},
		{Duplicate("exists", nil), http.StatusConflict},
		{Synthesis("self-check", nil, errors.New("boom")), http.StatusBadRequest},
		{Execution("script", nil, nil), http.StatusBadGateway},
		{NotFound("missing", nil), http.StatusNotFound},
		{Disabled("agent disabled", nil), http.StatusForbidden},
		{System("internal", "oops", nil, nil), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.status {
			t.Errorf("%s: status=%d want %d", c.err.Category, got, c.status)
		}
		if !IsCategory(c.err, c.err.Category) {
			t.Errorf("IsCategory(%s) = false", c.err.Category)
		}
	}
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	e := Validation("bad_parameters", long, map[string]any{"raw": long})
	if len(e.Message) > 512 {
		t.Fatalf("message not truncated: %d", len(e.Message))
	}
	if s, ok := e.Context["raw"].(string); !ok || len(s) > 256 {
		t.Fatalf("context not truncated: %v", e.Context["raw"])
	}
}

func TestWriteHTTPEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/capabilities/nope", nil)
	WriteHTTP(rec, req, NotFound("no such capability", map[string]any{"name": "nope"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("code=%d", rec.Code)
	}
	var env struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Category != CategoryNotFound {
		t.Fatalf("category=%s", env.Error.Category)
	}
}
