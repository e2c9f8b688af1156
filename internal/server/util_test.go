package server

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"a", "A1._-", "nginx-worker", "unicode한글"}
	invalid := []string{"", "a b", "a:1", "a/b", `a\b`, "tab\there", strings.Repeat("x", 64)}
	for _, s := range valid {
		if !validName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if validName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func FuzzValidName(f *testing.F) {
	for _, seed := range []string{"web", "", "a:b", "../etc", "name\x00null", "name\nnewline"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, name string) {
		if !validName(name) {
			return
		}
		if len(name) > 63 || strings.ContainsAny(name, ": \t\n/\\") {
			t.Errorf("accepted invalid name %q", name)
		}
	})
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
