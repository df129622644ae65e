package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGemini_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/gemini-test:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k123" {
			t.Errorf("api key not passed, query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"class A(Scene): pass"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGemini(GeminiConfig{APIKey: "k123", Model: "gemini-test", BaseURL: srv.URL})
	got, err := p.Generate(context.Background(), "draw a circle")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "class A(Scene): pass" {
		t.Errorf("Generate() = %q", got)
	}
}

func TestGemini_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	p := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := p.Generate(context.Background(), "x"); err == nil {
		t.Fatal("Generate() error = nil, want quota error")
	}
}

func TestAzureOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "azkey" {
			t.Errorf("api-key header = %q", r.Header.Get("api-key"))
		}
		if !strings.Contains(r.URL.Path, "/openai/deployments/gpt4/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"fixed script"}}]}`))
	}))
	defer srv.Close()

	p := NewAzureOpenAI(AzureOpenAIConfig{APIKey: "azkey", Endpoint: srv.URL, Deployment: "gpt4"})
	got, err := p.Generate(context.Background(), "fix it")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "fixed script" {
		t.Errorf("Generate() = %q", got)
	}
}
