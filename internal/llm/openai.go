package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider against an OpenAI-compatible
// /v1/chat/completions endpoint. DeepSeek and Kimi (Moonshot) both
// speak this dialect, so the same adapter serves either vendor with a
// different base URL and model.
type OpenAIProvider struct {
	name       string
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider creates an adapter for an OpenAI-compatible vendor.
// name is the routing identifier (e.g. "deepseek", "kimi").
func NewOpenAIProvider(name, apiKey, apiBase, model string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:    name,
		apiKey:  apiKey,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete sends a completion request to the vendor API.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request, opts CallOptions) (*Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	respBody, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}

	var apiResp completionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &ProviderError{Provider: p.name, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Message: "no choices in response"}
	}

	model := apiResp.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Content:  apiResp.Choices[0].Message.Content,
		Provider: p.name,
		Model:    model,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming completion request and returns a channel of
// chunks. Malformed SSE frames are skipped; the stream ends on a
// literal [DONE] sentinel or a stop finish reason.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request, opts CallOptions) (<-chan Chunk, error) {
	streamCtx := ctx
	var cancel context.CancelFunc = func() {}
	if opts.Timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	jsonBody, err := json.Marshal(p.buildBody(req, true))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(streamCtx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &ProviderError{Provider: p.name, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &ProviderError{Provider: p.name, Status: resp.StatusCode, Message: string(body)}
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()
		p.readSSE(streamCtx, resp.Body, out)
	}()
	return out, nil
}

// readSSE consumes data: frames until [DONE], a stop finish reason, EOF
// or context cancellation.
func (p *OpenAIProvider) readSSE(ctx context.Context, body io.Reader, out chan<- Chunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			p.send(ctx, out, Chunk{Done: true})
			return
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			// Malformed frames are skipped, not fatal.
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		choice := frame.Choices[0]
		if choice.Delta.Content != "" {
			if !p.send(ctx, out, Chunk{Content: choice.Delta.Content}) {
				return
			}
		}
		if choice.FinishReason == "stop" {
			p.send(ctx, out, Chunk{Done: true})
			return
		}
	}
}

func (p *OpenAIProvider) send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildBody assembles the vendor wire body, merging the system prompt
// into the message list.
func (p *OpenAIProvider) buildBody(req *Request, stream bool) map[string]any {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	return map[string]any{
		"model":       p.model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      stream,
	}
}

func (p *OpenAIProvider) post(ctx context.Context, body map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.name, Status: resp.StatusCode, Message: string(respBody)}
	}
	return respBody, nil
}

// Vendor API response types.
type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
