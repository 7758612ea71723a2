package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teranos/courseforge/ai/openrouter"
)

func TestLocalProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "llama3.2" {
			t.Errorf("expected configured model, got %s", req.Model)
		}
		if req.ResponseFormat == nil {
			t.Error("expected JSON response format")
		}
		_, _ = w.Write([]byte(`{"model":"llama3.2","choices":[{"index":0,"message":{"role":"assistant","content":" {\"a\":1} "}}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	}))
	defer server.Close()

	lp := NewLocalProvider(server.URL, "llama3.2", time.Second, nil)
	resp, err := lp.Chat(context.Background(), openrouter.ChatRequest{
		SystemPrompt: "sys",
		UserPrompt:   "user",
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != `{"a":1}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 || resp.CostUSD != 0 {
		t.Errorf("unexpected usage %+v cost %v", resp.Usage, resp.CostUSD)
	}
}

func TestLocalProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	lp := NewLocalProvider(server.URL, "llama3.2", time.Second, nil)
	if _, err := lp.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "x"}); err == nil {
		t.Error("expected error on 500")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lp.Chat(ctx, openrouter.ChatRequest{UserPrompt: "x"}); err == nil {
		t.Error("expected error on cancelled context")
	}
}
