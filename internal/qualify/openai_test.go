package qualify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

func TestOpenAIScorer_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "gpt-test" || req.ResponseFormat.Type != "json_schema" {
			t.Errorf("request = %+v", req)
		}
		if req.ResponseFormat.JSONSchema.Name != "qualification_verdict" {
			t.Errorf("schema name = %q", req.ResponseFormat.JSONSchema.Name)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"score\":88,\"reasoning\":\"fit\",\"passed\":true}"}}]}`))
	}))
	defer srv.Close()

	s := NewOpenAIScorer(srv.URL, "sk-test", "gpt-test", srv.Client())
	got, err := s.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"score":88,"reasoning":"fit","passed":true}` {
		t.Errorf("content = %s", got)
	}
}

func TestOpenAIScorer_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down, api_key=sk-live-123"}}`))
	}))
	defer srv.Close()

	s := NewOpenAIScorer(srv.URL, "sk-test", "gpt-test", srv.Client())
	_, err := s.Complete(context.Background(), "prompt")

	var pe *model.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.StatusCode != 429 || pe.RetryAfter != 3*time.Second || !pe.Transient() {
		t.Errorf("provider error = %+v", pe)
	}
	if pe.Body == "" || strings.Contains(pe.Body, "sk-live-123") {
		t.Errorf("body not redacted: %q", pe.Body)
	}
}
