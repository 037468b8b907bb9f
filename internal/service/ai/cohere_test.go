package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCohereGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer credential, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "command" {
			t.Errorf("expected model command, got %q", req.Model)
		}
		if req.MaxTokens != 100 {
			t.Errorf("expected max_tokens 100, got %d", req.MaxTokens)
		}
		if req.Prompt != BuildPrompt("hello") {
			t.Errorf("unexpected prompt: %q", req.Prompt)
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"x","generations":[{"id":"g1","text":" Hi there! "},{"id":"g2","text":"ignored"}]}`))
	}))
	defer server.Close()

	c := NewCohereClient("test-key", "command", 100, WithEndpoint(server.URL))

	reply, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Hi there!" {
		t.Fatalf("expected first generation, got %q", reply)
	}
}

func TestCohereGenerateFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"api error":         {http.StatusUnauthorized, `{"message":"invalid api token"}`},
		"server error":      {http.StatusBadGateway, `upstream down`},
		"malformed payload": {http.StatusOK, `{"generations":`},
		"empty generations": {http.StatusOK, `{"generations":[]}`},
		"wrong shape":       {http.StatusOK, `{"text":"hi"}`},
		"blank text":        {http.StatusOK, `{"generations":[{"text":"  "}]}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			c := NewCohereClient("k", "command", 100, WithEndpoint(server.URL))
			if _, err := c.Generate(context.Background(), "hi"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCohereGenerateHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewCohereClient("k", "command", 100, WithEndpoint(server.URL), WithTimeout(50*time.Millisecond))

	start := time.Now()
	if _, err := c.Generate(context.Background(), "hi"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestBuildPromptEmbedsLiteralText(t *testing.T) {
	got := BuildPrompt(`I said "no"`)
	want := `You are a mental health support chatbot. A user said: "I said "no"". How would you respond in a caring, supportive way?`
	if got != want {
		t.Fatalf("unexpected prompt:\n got %s\nwant %s", got, want)
	}
}
