package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"model": "moonshot-v1-8k",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("kimi", "test-key", server.URL, "moonshot-v1-8k")
	resp, err := p.Complete(context.Background(), &Request{
		TaskType:     TaskDraft,
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		MaxTokens:    128,
		Temperature:  0.5,
	}, CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q, want %q", resp.Content, "hello")
	}
	if resp.Provider != "kimi" {
		t.Errorf("provider = %q, want kimi", resp.Provider)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}

	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected system prompt merged into messages, got %v", gotBody["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("first message should be the system prompt, got %v", first)
	}
}

func TestOpenAIProvider_CompleteDefaults(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}], "usage": {}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("deepseek", "k", server.URL, "deepseek-chat")
	resp, err := p.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, CallOptions{})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if gotBody["max_tokens"].(float64) != 2048 {
		t.Errorf("max_tokens default = %v, want 2048", gotBody["max_tokens"])
	}
	if gotBody["temperature"].(float64) != 0.7 {
		t.Errorf("temperature default = %v, want 0.7", gotBody["temperature"])
	}
	// Model should fall back to the configured one when the response omits it.
	if resp.Model != "deepseek-chat" {
		t.Errorf("model = %q, want deepseek-chat", resp.Model)
	}
}

func TestOpenAIProvider_CompleteNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider("deepseek", "k", server.URL, "deepseek-chat")
	_, err := p.Complete(context.Background(), &Request{}, CallOptions{})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	provErr, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if provErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", provErr.Status)
	}
}

func TestOpenAIProvider_CompleteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	p := NewOpenAIProvider("deepseek", "k", server.URL, "deepseek-chat")
	start := time.Now()
	_, err := p.Complete(context.Background(), &Request{}, CallOptions{Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout did not bound the call")
	}
}

func TestOpenAIProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("expected stream=true in request body")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "this line is noise and must be skipped\n")
		fmt.Fprint(w, "data: {not valid json}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider("kimi", "k", server.URL, "moonshot-v1-8k")
	ch, err := p.Stream(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		if chunk.Done {
			done = true
			continue
		}
		content += chunk.Content
	}
	if content != "Hello" {
		t.Errorf("streamed content = %q, want Hello", content)
	}
	if !done {
		t.Error("expected a final done chunk")
	}
}

func TestOpenAIProvider_StreamStopFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"},\"finish_reason\":\"stop\"}]}\n\n")
		// Anything after stop must not be surfaced.
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"y\"}}]}\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider("kimi", "k", server.URL, "m")
	ch, err := p.Stream(context.Background(), &Request{}, CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	var content string
	for chunk := range ch {
		content += chunk.Content
	}
	if content != "x" {
		t.Errorf("content = %q, want x", content)
	}
}

func TestOpenAIProvider_StreamNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider("kimi", "k", server.URL, "m")
	if _, err := p.Stream(context.Background(), &Request{}, CallOptions{}); err == nil {
		t.Fatal("expected error on 401")
	}
}
