// Package whisper generates inline reply suggestions when a user
// mentions the assistant trigger in a conversation.
package whisper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/linkingchat/linkingchat/internal/llm"
	"github.com/linkingchat/linkingchat/internal/push"
	"github.com/linkingchat/linkingchat/internal/store"
)

const (
	// Timeout bounds suggestion generation; past it the trigger is
	// silently abandoned.
	Timeout = 2 * time.Second
	// ContextWindow is how many recent messages feed the prompt.
	ContextWindow = 20
)

// triggerRe matches a standalone "@ai" token. RE2 has no lookbehind,
// so the leading non-word-char alternative stands in for (?<!\w),
// keeping email local parts and longer tokens from matching.
var triggerRe = regexp.MustCompile(`(?i)(^|[^0-9A-Za-z_])@ai\b`)

var listMarkerRe = regexp.MustCompile(`^[\d.)\-*]+\s*`)

// Suggestions is the structured whisper result: one primary reply and
// up to two alternatives.
type Suggestions struct {
	Primary      string   `json:"primary"`
	Alternatives []string `json:"alternatives"`
}

// Payload is the ai:whisper:suggestions push body.
type Payload struct {
	SuggestionID string    `json:"suggestion_id"`
	ConverseID   string    `json:"converse_id"`
	MessageID    string    `json:"message_id"`
	Primary      string    `json:"primary"`
	Alternatives []string  `json:"alternatives"`
	CreatedAt    time.Time `json:"created_at"`
}

// Engine detects whisper triggers and produces reply suggestions.
type Engine struct {
	store    *store.Store
	router   Completer
	notifier push.Notifier
}

// Completer is the router surface the engine needs.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// NewEngine creates a whisper engine.
func NewEngine(st *store.Store, router Completer, notifier push.Notifier) *Engine {
	return &Engine{store: st, router: router, notifier: notifier}
}

// IsTrigger reports whether the text contains a standalone @ai token.
// Partial matches ("user@ai.example", "x@aid") do not count.
func IsTrigger(text string) bool {
	if text == "" {
		return false
	}
	return triggerRe.MatchString(text)
}

// HandleTrigger generates and pushes reply suggestions for a triggering
// message. Callers invoke it in a goroutine; it never blocks the
// message-ingestion path and failures are logged, not surfaced.
func (e *Engine) HandleTrigger(ctx context.Context, userID, converseID, messageID string) {
	chatContext, err := e.extractContext(converseID)
	if err != nil {
		slog.Error("Whisper context extraction failed", "converse", converseID, "error", err)
		return
	}

	suggestions := e.generate(ctx, chatContext)
	if suggestions == nil {
		slog.Warn("Whisper abandoned", "message", messageID, "converse", converseID)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"primary":      suggestions.Primary,
		"alternatives": suggestions.Alternatives,
	})
	if err != nil {
		slog.Error("Whisper payload marshal failed", "error", err)
		return
	}
	record := &store.Suggestion{
		Type:       store.SuggestionWhisper,
		UserID:     userID,
		ConverseID: converseID,
		MessageID:  messageID,
		Payload:    payload,
	}
	if err := e.store.CreateSuggestion(record); err != nil {
		slog.Error("Whisper persist failed", "message", messageID, "error", err)
		return
	}

	e.notifier.PushToUser(userID, push.EventWhisperSuggestions, Payload{
		SuggestionID: record.ID,
		ConverseID:   converseID,
		MessageID:    messageID,
		Primary:      suggestions.Primary,
		Alternatives: suggestions.Alternatives,
		CreatedAt:    record.CreatedAt,
	})
	slog.Info("Whisper suggestions sent", "user", userID, "message", messageID)
}

// AcceptSuggestion records which suggestion the user picked.
// Index 0 is the primary, 1-2 the alternatives.
func (e *Engine) AcceptSuggestion(userID, suggestionID string, selectedIndex int) error {
	ok, err := e.store.MarkSuggestionAccepted(suggestionID, userID, selectedIndex)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	slog.Info("Whisper suggestion accepted", "suggestion", suggestionID, "user", userID, "index", selectedIndex)
	return nil
}

// extractContext formats the most recent messages oldest-first as
// "author: content" lines.
func (e *Engine) extractContext(converseID string) (string, error) {
	msgs, err := e.store.ListRecentMessages(converseID, ContextWindow)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.AuthorName, m.Content))
	}
	return strings.Join(lines, "\n"), nil
}

// generate calls the router under the whisper deadline. A nil result
// means timeout or provider failure; nothing is persisted or pushed.
func (e *Engine) generate(ctx context.Context, chatContext string) *Suggestions {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	resp, err := e.router.Complete(ctx, &llm.Request{
		TaskType:     llm.TaskWhisper,
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Chat history:\n\n%s\n\nGenerate 3 reply suggestions for this conversation.", chatContext),
		}},
		MaxTokens:   512,
		Temperature: 0.8,
	})
	if err != nil {
		return nil
	}
	s := ParseSuggestions(resp.Content)
	return &s
}

// ParseSuggestions decodes LLM output. Strict JSON first; on failure a
// line-based fallback strips list markers and takes the first line as
// primary and the next two as alternatives.
func ParseSuggestions(content string) Suggestions {
	var parsed Suggestions
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Primary != "" {
		if len(parsed.Alternatives) > 2 {
			parsed.Alternatives = parsed.Alternatives[:2]
		}
		return parsed
	}

	var lines []string
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSpace(listMarkerRe.ReplaceAllString(strings.TrimSpace(l), ""))
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return Suggestions{Primary: strings.TrimSpace(content), Alternatives: []string{}}
	}
	alternatives := lines[1:]
	if len(alternatives) > 2 {
		alternatives = alternatives[:2]
	}
	return Suggestions{Primary: lines[0], Alternatives: alternatives}
}

const systemPrompt = `You are a chat assistant. Based on the conversation context, generate 3 natural, appropriate reply suggestions for the user.

Output format (strict JSON):
{
  "primary": "the most recommended reply",
  "alternatives": ["alternative reply 1", "alternative reply 2"]
}

Requirements:
- Replies must fit the tone and context of the conversation
- Keep them short and direct
- Vary the style across the 3 suggestions (agree / neutral / question)
- No emoji
- Output JSON directly, without a markdown code fence`
