// Package predictive scans command output for trouble signatures and
// suggests remediation actions, re-classifying each action's risk
// before it is ever shown to a user.
package predictive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkingchat/linkingchat/internal/guard"
	"github.com/linkingchat/linkingchat/internal/llm"
	"github.com/linkingchat/linkingchat/internal/push"
	"github.com/linkingchat/linkingchat/internal/store"
)

const (
	// maxActions caps how many suggestions survive parsing.
	maxActions = 5
	// excerpt limits for the LLM prompt and the persisted record.
	promptExcerptLen = 1000
	storeExcerptLen  = 500
	pushExcerptLen   = 200
)

// Action is one suggested remediation step. DangerLevel is always
// recomputed locally; whatever the LLM claims is discarded.
type Action struct {
	Type        string      `json:"type"`
	Action      string      `json:"action"`
	Description string      `json:"description"`
	DangerLevel guard.Level `json:"danger_level"`
}

// Payload is the ai:predictive:action push body.
type Payload struct {
	SuggestionID string    `json:"suggestion_id"`
	ConverseID   string    `json:"converse_id"`
	Trigger      string    `json:"trigger"`
	Actions      []Action  `json:"actions"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnalyzeParams identifies the triggering output and its owner.
type AnalyzeParams struct {
	UserID          string
	ConverseID      string
	TriggerOutput   string
	TriggerCategory string
}

// Completer is the router surface the engine needs.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Engine generates predictive action suggestions.
type Engine struct {
	store    *store.Store
	router   Completer
	notifier push.Notifier
}

// NewEngine creates a predictive engine.
func NewEngine(st *store.Store, router Completer, notifier push.Notifier) *Engine {
	return &Engine{store: st, router: router, notifier: notifier}
}

// AnalyzeTrigger asks the LLM for remediation actions, re-classifies
// their danger levels, persists them, and pushes them to the user.
// Callers invoke it in a goroutine; failures are logged, never
// surfaced, and an empty action list means no persistence and no push.
func (e *Engine) AnalyzeTrigger(ctx context.Context, params AnalyzeParams) {
	actions := e.generate(ctx, params.TriggerOutput, params.TriggerCategory)
	if len(actions) == 0 {
		slog.Debug("No predictive actions generated", "category", params.TriggerCategory)
		return
	}

	// The classifier's verdict overwrites whatever the LLM reported.
	for i := range actions {
		actions[i].DangerLevel = guard.Classify(actions[i].Type, actions[i].Action)
	}

	excerpt := truncate(params.TriggerOutput, storeExcerptLen)
	payload, err := json.Marshal(map[string]any{
		"trigger":  excerpt,
		"category": params.TriggerCategory,
		"actions":  actions,
	})
	if err != nil {
		slog.Error("Predictive payload marshal failed", "error", err)
		return
	}
	record := &store.Suggestion{
		Type:       store.SuggestionPredictive,
		UserID:     params.UserID,
		ConverseID: params.ConverseID,
		Payload:    payload,
	}
	if err := e.store.CreateSuggestion(record); err != nil {
		slog.Error("Predictive persist failed", "category", params.TriggerCategory, "error", err)
		return
	}

	e.notifier.PushToUser(params.UserID, push.EventPredictiveAction, Payload{
		SuggestionID: record.ID,
		ConverseID:   params.ConverseID,
		Trigger:      truncate(params.TriggerOutput, pushExcerptLen),
		Actions:      actions,
		CreatedAt:    record.CreatedAt,
	})
	slog.Info("Predictive actions sent",
		"user", params.UserID, "category", params.TriggerCategory, "actions", len(actions))
}

// ExecuteAction records the user's pick and returns the chosen action.
func (e *Engine) ExecuteAction(userID, suggestionID string, actionIndex int) (*Action, error) {
	record, err := e.store.GetSuggestion(suggestionID, userID)
	if err != nil {
		return nil, err
	}
	var body struct {
		Actions []Action `json:"actions"`
	}
	if err := json.Unmarshal(record.Payload, &body); err != nil {
		return nil, fmt.Errorf("decode suggestion payload: %w", err)
	}
	if actionIndex < 0 || actionIndex >= len(body.Actions) {
		return nil, store.ErrNotFound
	}
	ok, err := e.store.MarkSuggestionAccepted(suggestionID, userID, actionIndex)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &body.Actions[actionIndex], nil
}

// Dismiss marks the suggestion DISMISSED.
func (e *Engine) Dismiss(userID, suggestionID string) error {
	ok, err := e.store.MarkSuggestionDismissed(suggestionID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	slog.Info("Predictive suggestion dismissed", "suggestion", suggestionID, "user", userID)
	return nil
}

func (e *Engine) generate(ctx context.Context, output, category string) []Action {
	resp, err := e.router.Complete(ctx, &llm.Request{
		TaskType:     llm.TaskPredictive,
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Error category: %s\n\nError output:\n%s", category, truncate(output, promptExcerptLen)),
		}},
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		slog.Warn("Predictive generation failed", "category", category, "error", err)
		return nil
	}
	return ParseActions(resp.Content)
}

// ParseActions decodes the LLM output as a JSON array or an object with
// an "actions" field. Entries missing an action or description are
// dropped; the list is capped; invalid JSON yields an empty list.
func ParseActions(content string) []Action {
	type rawAction struct {
		Type        string `json:"type"`
		Action      string `json:"action"`
		Command     string `json:"command"`
		Description string `json:"description"`
	}

	var raw []rawAction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		var wrapped struct {
			Actions []rawAction `json:"actions"`
		}
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil
		}
		raw = wrapped.Actions
	}

	actions := make([]Action, 0, len(raw))
	for _, a := range raw {
		text := a.Action
		if text == "" {
			text = a.Command
		}
		if text == "" || a.Description == "" {
			continue
		}
		typ := a.Type
		if typ == "" {
			typ = guard.ActionShell
		}
		actions = append(actions, Action{Type: typ, Action: text, Description: a.Description})
		if len(actions) == maxActions {
			break
		}
	}
	return actions
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const systemPrompt = `You are a devops assistant. Based on the error output, suggest possible remediation actions.

Output format (strict JSON array):
[
  { "type": "shell", "action": "shell command", "description": "what it does" },
  { "type": "shell", "action": "shell command", "description": "what it does" }
]

Requirements:
- Suggest at most 3 actions
- type is one of "shell", "message", "file"
- action is the concrete operation
- order from safest to most aggressive
- Output JSON directly, without a markdown code fence`
