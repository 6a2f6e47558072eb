package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusScraping, true},
		{StatusScraping, StatusEnriching, true},
		{StatusEnriching, StatusCompleted, true},
		{StatusEnriching, StatusQualifying, true},
		{StatusQualifying, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusScraping, StatusFailed, true},
		{StatusEnriching, StatusFailed, true},
		{StatusQualifying, StatusFailed, true},

		{StatusPending, StatusEnriching, false},
		{StatusScraping, StatusCompleted, false},
		{StatusScraping, StatusPending, false},
		{StatusQualifying, StatusEnriching, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusScraping, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusScraping, StatusEnriching, StatusQualifying} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestProfileURL(t *testing.T) {
	j := EnrichmentJob{ProfileIDs: []int64{4, 9}, ProfileURLs: []string{"a", "b"}}
	if got := j.ProfileURL(9); got != "b" {
		t.Errorf("ProfileURL(9) = %q, want b", got)
	}
	if got := j.ProfileURL(5); got != "" {
		t.Errorf("ProfileURL(5) = %q, want empty", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &ProviderError{StatusCode: 429}, true},
		{"503", &ProviderError{StatusCode: 503}, true},
		{"401", &ProviderError{StatusCode: 401}, false},
		{"transport", &ProviderError{Err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection reset")}}, true},
		{"missing key", &ProviderError{Err: errors.New("api key not configured")}, false},
		{"marked", &TransientError{Err: errors.New("busy")}, true},
		{"wrapped", fmt.Errorf("lookup: %w", &ProviderError{StatusCode: 502}), true},
		{"plain", errors.New("bad input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	in := `{"error":"bad key","api_key":"sk-12345"} Authorization: Bearer abc.def`
	got := Redact(in)
	if strings.Contains(got, "sk-12345") || strings.Contains(got, "abc.def") {
		t.Errorf("secrets not redacted: %s", got)
	}
}

func TestSnippetTruncates(t *testing.T) {
	got := Snippet([]byte(strings.Repeat("x", 50)), 10)
	if got != strings.Repeat("x", 10)+"..." {
		t.Errorf("Snippet = %q", got)
	}
}
