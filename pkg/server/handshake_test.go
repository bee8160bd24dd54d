package server

import (
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc123", "", "abc123"},
		{"header wrong scheme", "Basic abc123", "", ""},
		{"query fallback", "", "qtoken", "qtoken"},
		{"header wins over query", "Bearer htoken", "qtoken", "htoken"},
		{"nothing", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/ws"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			r := httptest.NewRequest("GET", url, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := bearerToken(r); got != tc.want {
				t.Errorf("bearerToken = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://app.example.com")
	if !check(r) {
		t.Error("allowed origin rejected")
	}

	r.Header.Set("Origin", "https://evil.example.com")
	if check(r) {
		t.Error("unknown origin accepted")
	}

	// Non-browser clients without an Origin header pass.
	r.Header.Del("Origin")
	if !check(r) {
		t.Error("request without origin rejected")
	}

	if originChecker(nil) != nil {
		t.Error("empty allow list should fall back to the upgrader default")
	}

	wild := originChecker([]string{"*"})
	r.Header.Set("Origin", "https://anything.example")
	if !wild(r) {
		t.Error("wildcard rejected an origin")
	}
}
