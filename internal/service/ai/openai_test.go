package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["max_tokens"] != float64(100) {
			t.Errorf("expected max_tokens 100, got %v", req["max_tokens"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"I'm here for you."},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("sk-test", server.URL, "gpt-4o-mini", 100)

	reply, err := g.Generate(context.Background(), "I feel awful")
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if reply != "I'm here for you." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestOpenAIGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("sk-test", server.URL, "gpt-4o-mini", 100)
	if _, err := g.Generate(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
