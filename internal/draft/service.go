// Package draft implements the draft-verify state machine: a bot
// proposes a message or command, the owning user approves, rejects, or
// edits it before anything takes effect, and unattended drafts expire.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/linkingchat/linkingchat/internal/llm"
	"github.com/linkingchat/linkingchat/internal/push"
	"github.com/linkingchat/linkingchat/internal/store"
)

// TTL is how long a draft stays approvable.
const TTL = 5 * time.Minute

// ErrNotFound is returned when the draft is missing, owned by another
// user, or already terminal.
var ErrNotFound = errors.New("draft not found or no longer pending")

// ErrExpired is returned when a draft's deadline passed before the
// user acted; the draft is transitioned to EXPIRED as a side effect.
var ErrExpired = errors.New("draft has expired")

// CreateParams identifies the draft to generate.
type CreateParams struct {
	UserID     string
	ConverseID string
	BotID      string
	BotName    string
	DraftType  string // store.DraftTypeMessage or store.DraftTypeCommand
	UserIntent string
}

// CreatedPayload is the ai:draft:created push body.
type CreatedPayload struct {
	DraftID    string             `json:"draft_id"`
	ConverseID string             `json:"converse_id"`
	BotID      string             `json:"bot_id"`
	BotName    string             `json:"bot_name"`
	DraftType  string             `json:"draft_type"`
	Content    store.DraftContent `json:"content"`
	ExpiresAt  time.Time          `json:"expires_at"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ExpiredPayload is the ai:draft:expired push body.
type ExpiredPayload struct {
	DraftID    string `json:"draft_id"`
	ConverseID string `json:"converse_id"`
}

// Completer is the router surface the service needs.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Service drives the PENDING → APPROVED/REJECTED/EXPIRED state machine.
type Service struct {
	store    *store.Store
	router   Completer
	notifier push.Notifier

	// TTL may be adjusted before the first Create.
	TTL time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewService creates a draft service with the default TTL.
func NewService(st *store.Store, router Completer, notifier push.Notifier) *Service {
	return &Service{
		store:    st,
		router:   router,
		notifier: notifier,
		TTL:      TTL,
		timers:   make(map[string]*time.Timer),
	}
}

// Create generates draft content via the router, persists the PENDING
// record, pushes it to the user, and schedules a one-shot expiry.
func (s *Service) Create(ctx context.Context, params CreateParams) (string, error) {
	content, err := s.generate(ctx, params.DraftType, params.UserIntent)
	if err != nil {
		return "", fmt.Errorf("generate draft: %w", err)
	}

	d := &store.Draft{
		UserID:     params.UserID,
		ConverseID: params.ConverseID,
		BotID:      params.BotID,
		BotName:    params.BotName,
		DraftType:  params.DraftType,
		Content:    content,
		ExpiresAt:  time.Now().Add(s.TTL),
	}
	if err := s.store.CreateDraft(d); err != nil {
		return "", err
	}

	s.notifier.PushToUser(params.UserID, push.EventDraftCreated, CreatedPayload{
		DraftID:    d.ID,
		ConverseID: params.ConverseID,
		BotID:      params.BotID,
		BotName:    params.BotName,
		DraftType:  params.DraftType,
		Content:    content,
		ExpiresAt:  d.ExpiresAt,
		CreatedAt:  d.CreatedAt,
	})
	slog.Info("Draft created", "draft", d.ID, "type", params.DraftType, "user", params.UserID)

	s.scheduleExpiry(d.ID)
	return d.ID, nil
}

// Approve transitions a PENDING draft to APPROVED and returns its
// content for execution.
func (s *Service) Approve(userID, draftID string) (*store.DraftContent, error) {
	d, err := s.getValid(userID, draftID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.MarkDraftApproved(draftID, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to another writer.
		return nil, ErrNotFound
	}
	s.clearExpiry(draftID)
	slog.Info("Draft approved", "draft", draftID, "user", userID)
	return &d.Content, nil
}

// Reject transitions a PENDING draft to REJECTED.
func (s *Service) Reject(userID, draftID, reason string) error {
	if _, err := s.getValid(userID, draftID); err != nil {
		return err
	}
	ok, err := s.store.MarkDraftRejected(draftID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.clearExpiry(draftID)
	slog.Info("Draft rejected", "draft", draftID, "user", userID, "reason", reason)
	return nil
}

// EditAndApprove transitions a PENDING draft to APPROVED with
// user-edited content and returns the edited content.
func (s *Service) EditAndApprove(userID, draftID string, edited store.DraftContent) (*store.DraftContent, error) {
	if _, err := s.getValid(userID, draftID); err != nil {
		return nil, err
	}
	ok, err := s.store.MarkDraftApproved(draftID, &edited)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	s.clearExpiry(draftID)
	slog.Info("Draft edited and approved", "draft", draftID, "user", userID)
	return &edited, nil
}

// Expire is idempotent: it transitions a PENDING draft to EXPIRED and
// notifies the owner, and is a no-op for missing or terminal drafts.
func (s *Service) Expire(draftID string) error {
	d, err := s.store.GetDraft(draftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.Status != store.DraftPending {
		return nil
	}
	ok, err := s.store.MarkDraftExpired(draftID)
	if err != nil {
		return err
	}
	if !ok {
		// Another writer transitioned it first.
		return nil
	}
	s.clearExpiry(draftID)
	s.notifier.PushToUser(d.UserID, push.EventDraftExpired, ExpiredPayload{
		DraftID:    draftID,
		ConverseID: d.ConverseID,
	})
	slog.Info("Draft expired", "draft", draftID)
	return nil
}

// getValid loads the draft by (id, userID, PENDING) and expires it as a
// side effect when its deadline already passed.
func (s *Service) getValid(userID, draftID string) (*store.Draft, error) {
	d, err := s.store.GetPendingDraft(draftID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(d.ExpiresAt) {
		if err := s.Expire(draftID); err != nil {
			slog.Error("Lazy expiry failed", "draft", draftID, "error", err)
		}
		return nil, ErrExpired
	}
	return d, nil
}

func (s *Service) scheduleExpiry(draftID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[draftID] = time.AfterFunc(s.TTL, func() {
		if err := s.Expire(draftID); err != nil {
			slog.Error("Scheduled expiry failed", "draft", draftID, "error", err)
		}
	})
}

func (s *Service) clearExpiry(draftID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[draftID]; ok {
		t.Stop()
		delete(s.timers, draftID)
	}
}

// generate asks the router for draft content with a type-specific
// system prompt.
func (s *Service) generate(ctx context.Context, draftType, userIntent string) (store.DraftContent, error) {
	prompt := messagePrompt
	if draftType == store.DraftTypeCommand {
		prompt = commandPrompt
	}
	resp, err := s.router.Complete(ctx, &llm.Request{
		TaskType:     llm.TaskDraft,
		SystemPrompt: prompt,
		Messages:     []llm.Message{{Role: "user", Content: userIntent}},
		MaxTokens:    1024,
		Temperature:  0.5,
	})
	if err != nil {
		return store.DraftContent{}, err
	}
	return ParseContent(resp.Content, draftType), nil
}

// ParseContent decodes LLM draft output. Strict JSON first; for command
// drafts it extracts description/command/args. On parse failure the raw
// text becomes the content, same two-tier strategy as whisper.
func ParseContent(content, draftType string) store.DraftContent {
	var parsed struct {
		Content     string         `json:"content"`
		Message     string         `json:"message"`
		Description string         `json:"description"`
		Command     string         `json:"command"`
		Action      string         `json:"action"`
		Args        map[string]any `json:"args"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return store.DraftContent{Content: trimmed(content)}
	}

	if draftType == store.DraftTypeCommand {
		text := parsed.Description
		if text == "" {
			text = parsed.Content
		}
		if text == "" {
			text = trimmed(content)
		}
		action := parsed.Command
		if action == "" {
			action = parsed.Action
		}
		return store.DraftContent{Content: text, Action: action, Args: parsed.Args}
	}

	text := parsed.Content
	if text == "" {
		text = parsed.Message
	}
	if text == "" {
		text = trimmed(content)
	}
	return store.DraftContent{Content: text}
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

const messagePrompt = `You are a message drafting assistant. Based on the user's intent, draft a suitable chat message.

Output format (strict JSON):
{ "content": "the drafted message" }

Requirements:
- Natural, fluent language appropriate for a chat
- Output JSON directly, without a markdown code fence`

const commandPrompt = `You are a command drafting assistant. Based on the user's intent, draft a shell command.

Output format (strict JSON):
{
  "description": "what the command does",
  "command": "the shell command",
  "args": {}
}

Requirements:
- The command must be safe to execute
- Keep the description short
- Output JSON directly, without a markdown code fence`
