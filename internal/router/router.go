// Package router selects an LLM provider per task type, applies
// timeouts, and falls back to the next candidate on failure.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/linkingchat/linkingchat/internal/llm"
)

const (
	// PrimaryTimeout bounds the first candidate so interactive flows
	// keep their latency budget.
	PrimaryTimeout = 3 * time.Second
	// FallbackTimeout gives later candidates room to answer; the user
	// is already waiting at this point.
	FallbackTimeout = 10 * time.Second
	// StreamTimeout bounds a streaming call end to end.
	StreamTimeout = 60 * time.Second
)

// AllProvidersFailedError reports that every candidate for a task type
// failed, carrying each provider's error message.
type AllProvidersFailedError struct {
	TaskType llm.TaskType
	Attempts []Attempt
}

// Attempt records one failed provider call.
type Attempt struct {
	Provider string
	Err      error
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("all LLM providers failed for %s: %s", e.TaskType, strings.Join(parts, "; "))
}

// Router routes completion requests to providers by task type.
// The timeout fields may be adjusted before the first call.
type Router struct {
	providers map[string]llm.Provider
	routes    map[llm.TaskType][]string
	fallback  []string

	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	StreamTimeout   time.Duration
}

// New creates a router over the given providers with the default
// routing table: low-latency provider first for interactive tasks,
// quality provider first for drafts and complex analysis.
func New(providers ...llm.Provider) *Router {
	r := &Router{
		providers:       make(map[string]llm.Provider, len(providers)),
		PrimaryTimeout:  PrimaryTimeout,
		FallbackTimeout: FallbackTimeout,
		StreamTimeout:   StreamTimeout,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	r.routes = DefaultRoutes()
	r.fallback = r.routes[llm.TaskChat]
	return r
}

// DefaultRoutes is the static routing table. Each entry is an ordered
// candidate list: the head is primary, the rest are fallbacks.
func DefaultRoutes() map[llm.TaskType][]string {
	return map[llm.TaskType][]string{
		llm.TaskWhisper:         {"deepseek", "kimi"},
		llm.TaskPredictive:      {"deepseek", "kimi"},
		llm.TaskChat:            {"deepseek", "kimi"},
		llm.TaskDraft:           {"kimi", "deepseek"},
		llm.TaskComplexAnalysis: {"kimi", "deepseek"},
	}
}

// SetRoute overrides the candidate list for one task type.
func (r *Router) SetRoute(task llm.TaskType, candidates []string) {
	r.routes[task] = candidates
}

// SelectCandidates returns the ordered provider names for a task type.
// It is a pure function of the task type; unknown types use the chat
// route.
func (r *Router) SelectCandidates(task llm.TaskType) []string {
	if names, ok := r.routes[task]; ok {
		return names
	}
	return r.fallback
}

// Complete routes a completion request. The first candidate is called
// with the short primary timeout; on failure each remaining candidate
// is tried with the longer fallback timeout. When every candidate
// fails, an AllProvidersFailedError aggregating all errors is returned
// and no further retry happens.
func (r *Router) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	candidates := r.SelectCandidates(req.TaskType)
	attempts := make([]Attempt, 0, len(candidates))

	for i, name := range candidates {
		prov, ok := r.providers[name]
		if !ok {
			attempts = append(attempts, Attempt{Provider: name, Err: fmt.Errorf("provider not registered")})
			continue
		}

		timeout := r.PrimaryTimeout
		isFallback := i > 0
		if isFallback {
			timeout = r.FallbackTimeout
		}

		start := time.Now()
		resp, err := prov.Complete(ctx, req, llm.CallOptions{Timeout: timeout})
		duration := time.Since(start)

		if err != nil {
			r.logMetrics(callMetrics{
				provider: name, task: req.TaskType,
				duration: duration, fallback: isFallback, err: err,
			})
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}

		r.logMetrics(callMetrics{
			provider: name, model: resp.Model, task: req.TaskType,
			duration: duration, usage: resp.Usage,
			success: true, fallback: isFallback,
		})
		return resp, nil
	}

	return nil, &AllProvidersFailedError{TaskType: req.TaskType, Attempts: attempts}
}

// Stream routes a streaming request to the primary candidate only.
// Streamed output cannot be un-sent, so there is no automatic fallback;
// callers retry explicitly if they want to.
func (r *Router) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	candidates := r.SelectCandidates(req.TaskType)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no route for task type %s", req.TaskType)
	}
	prov, ok := r.providers[candidates[0]]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", candidates[0])
	}
	slog.Info("LLM stream", "task", req.TaskType, "provider", prov.Name())
	return prov.Stream(ctx, req, llm.CallOptions{Timeout: r.StreamTimeout})
}

type callMetrics struct {
	provider string
	model    string
	task     llm.TaskType
	duration time.Duration
	usage    llm.Usage
	success  bool
	fallback bool
	err      error
}

func (r *Router) logMetrics(m callMetrics) {
	if m.success {
		slog.Info("LLM call",
			"provider", m.provider,
			"model", m.model,
			"task", m.task,
			"duration_ms", m.duration.Milliseconds(),
			"prompt_tokens", m.usage.PromptTokens,
			"completion_tokens", m.usage.CompletionTokens,
			"total_tokens", m.usage.TotalTokens,
			"fallback", m.fallback,
		)
		return
	}
	slog.Warn("LLM call failed",
		"provider", m.provider,
		"task", m.task,
		"duration_ms", m.duration.Milliseconds(),
		"fallback", m.fallback,
		"error", m.err,
	)
}
