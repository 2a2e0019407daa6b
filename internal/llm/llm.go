// Package llm defines the uniform LLM request/response types and the
// provider interface implemented by vendor adapters.
package llm

import (
	"context"
	"fmt"
	"time"
)

// TaskType labels a request so the router can pick a provider and
// timeout profile for it.
type TaskType string

const (
	TaskWhisper         TaskType = "whisper"
	TaskDraft           TaskType = "draft"
	TaskPredictive      TaskType = "predictive"
	TaskChat            TaskType = "chat"
	TaskComplexAnalysis TaskType = "complex_analysis"
)

// Message is a single role-tagged turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains the parameters for a completion request.
// It is immutable once handed to a provider.
//
// MaxTokens and Temperature treat zero as unset: providers substitute
// their defaults (2048 tokens, temperature 0.7). An explicit
// temperature of 0 cannot be requested through this type.
type Request struct {
	TaskType     TaskType
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion produced by a provider.
type Response struct {
	Content  string
	Provider string
	Model    string
	Usage    Usage
}

// Chunk is one fragment of a streamed completion. A chunk with Done set
// is the final element; no content follows it.
type Chunk struct {
	Content string
	Done    bool
}

// CallOptions carries per-call settings. Timeout composes with the
// caller's context: whichever expires first aborts the call.
type CallOptions struct {
	Timeout time.Duration
}

// Provider is the interface implemented by LLM vendor adapters.
type Provider interface {
	// Name returns the provider identifier used in routing and metrics.
	Name() string
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request, opts CallOptions) (*Response, error)
	// Stream sends a streaming completion request. The returned channel
	// is closed after the final chunk; the sequence is finite and
	// cannot be restarted.
	Stream(ctx context.Context, req *Request, opts CallOptions) (<-chan Chunk, error)
}

// ProviderError is returned when a provider call fails at the HTTP or
// API level (non-2xx, network error, malformed body).
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
