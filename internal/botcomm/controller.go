// Package botcomm governs bot-to-bot messaging: cycle, depth, and rate
// guards before a cross-bot notification lands in the target bot's DM,
// plus LLM-assisted routing of a user message to the right bot.
package botcomm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/linkingchat/linkingchat/internal/llm"
	"github.com/linkingchat/linkingchat/internal/push"
	"github.com/linkingchat/linkingchat/internal/store"
)

// MaxChainDepth is the longest bot-to-bot relay chain allowed,
// counting the sender.
const MaxChainDepth = 3

// Completer is the router surface the controller needs.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// SendParams describes one cross-bot notification attempt.
type SendParams struct {
	FromBotID string
	ToBotID   string
	UserID    string
	Content   string
	Reason    string
	CallChain []string
}

// TriggerSource records which bot caused a BOT_NOTIFICATION message.
type TriggerSource struct {
	BotID   string `json:"botId"`
	BotName string `json:"botName"`
	Reason  string `json:"reason,omitempty"`
}

// NotifyPayload is the bot:cross:notify push body.
type NotifyPayload struct {
	MessageID   string `json:"message_id"`
	ConverseID  string `json:"converse_id"`
	FromBotID   string `json:"from_bot_id"`
	FromBotName string `json:"from_bot_name"`
	ToBotID     string `json:"to_bot_id"`
	ToBotName   string `json:"to_bot_name"`
	Content     string `json:"content"`
}

// RouteResult is the supervisor's pick for a user message.
type RouteResult struct {
	Bot        *store.Bot
	Confidence float64
	Reason     string
}

// Controller enforces the cross-bot messaging policy.
type Controller struct {
	store    *store.Store
	router   Completer
	notifier push.Notifier
	limiter  RateLimiter
}

// NewController creates a controller. A nil limiter gets the in-memory
// default.
func NewController(st *store.Store, router Completer, notifier push.Notifier, limiter RateLimiter) *Controller {
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}
	return &Controller{store: st, router: router, notifier: notifier, limiter: limiter}
}

// DetectCycle reports whether the target already appears in the call
// chain.
func DetectCycle(targetBotID string, chain []string) bool {
	for _, id := range chain {
		if id == targetBotID {
			return true
		}
	}
	return false
}

// CheckChainDepth reports whether the chain is still within the relay
// limit.
func CheckChainDepth(chain []string) bool {
	return len(chain) <= MaxChainDepth
}

// SendBotMessage delivers a notification from one bot to another bot's
// DM with the shared user. Policy rejections (self-send, cycle, depth,
// rate) and unresolvable bots return (nil, nil): the send silently does
// not happen, it is not an error.
func (c *Controller) SendBotMessage(ctx context.Context, params SendParams) (*store.Message, error) {
	if params.FromBotID == params.ToBotID {
		slog.Warn("Bot message rejected: self send", "bot", params.FromBotID)
		return nil, nil
	}
	if DetectCycle(params.ToBotID, params.CallChain) {
		slog.Warn("Bot message rejected: cycle", "from", params.FromBotID, "to", params.ToBotID)
		return nil, nil
	}
	if !CheckChainDepth(params.CallChain) {
		slog.Warn("Bot message rejected: chain too deep", "from", params.FromBotID, "depth", len(params.CallChain))
		return nil, nil
	}
	if !c.limiter.Allow(params.FromBotID, params.ToBotID) {
		slog.Warn("Bot message rejected: rate limited", "from", params.FromBotID, "to", params.ToBotID)
		return nil, nil
	}

	fromBot, err := c.store.GetBotOwned(params.FromBotID, params.UserID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Bot message rejected: sender not found", "bot", params.FromBotID, "user", params.UserID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	toBot, err := c.store.GetBotOwned(params.ToBotID, params.UserID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Bot message rejected: target not found", "bot", params.ToBotID, "user", params.UserID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv, err := c.store.FindDMConversation(toBot.UserID, params.UserID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Bot message rejected: no DM conversation", "bot", toBot.ID, "user", params.UserID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(map[string]any{
		"triggerSource": TriggerSource{BotID: fromBot.ID, BotName: fromBot.Name, Reason: params.Reason},
	})
	if err != nil {
		return nil, fmt.Errorf("encode trigger source: %w", err)
	}

	msg := &store.Message{
		ConverseID: conv.ID,
		AuthorID:   toBot.UserID,
		AuthorName: toBot.Name,
		Type:       store.MessageBotNotification,
		Content:    params.Content,
		Metadata:   string(meta),
	}
	if err := c.store.CreateMessage(msg); err != nil {
		return nil, err
	}

	c.notifier.PushToUser(params.UserID, push.EventBotCrossNotify, NotifyPayload{
		MessageID:   msg.ID,
		ConverseID:  conv.ID,
		FromBotID:   fromBot.ID,
		FromBotName: fromBot.Name,
		ToBotID:     toBot.ID,
		ToBotName:   toBot.Name,
		Content:     params.Content,
	})
	slog.Info("Bot message delivered", "from", fromBot.Name, "to", toBot.Name, "message", msg.ID)
	return msg, nil
}

// RouteViaSupervisor asks the LLM which of the user's bots should
// handle a message. Returns nil when no bot matches.
func (c *Controller) RouteViaSupervisor(ctx context.Context, userID, userMessage string) (*RouteResult, error) {
	bots, err := c.store.ListBotsByOwner(userID)
	if err != nil {
		return nil, err
	}
	if len(bots) == 0 {
		return nil, nil
	}

	var catalog strings.Builder
	for _, b := range bots {
		fmt.Fprintf(&catalog, "- %s (type: %s): %s\n", b.Name, b.Type, b.Description)
	}

	resp, err := c.router.Complete(ctx, &llm.Request{
		TaskType:     llm.TaskChat,
		SystemPrompt: fmt.Sprintf(supervisorPrompt, catalog.String()),
		Messages:     []llm.Message{{Role: "user", Content: userMessage}},
		MaxTokens:    256,
		Temperature:  0.3,
	})
	if err != nil {
		return nil, err
	}
	return pickBot(resp.Content, bots), nil
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripCodeFence unwraps a markdown code fence if the text carries one.
func stripCodeFence(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// pickBot decodes the supervisor verdict. A parsed verdict is final:
// when its botName is empty or matches no catalog entry, the supervisor
// declined and no bot is picked. The substring scan only covers
// responses that are not JSON at all.
func pickBot(content string, bots []*store.Bot) *RouteResult {
	cleaned := stripCodeFence(content)

	var verdict struct {
		BotName    string   `json:"botName"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &verdict); err == nil {
		for _, b := range bots {
			if strings.EqualFold(b.Name, verdict.BotName) {
				conf := 0.5
				if verdict.Confidence != nil {
					conf = *verdict.Confidence
				}
				return &RouteResult{Bot: b, Confidence: conf, Reason: verdict.Reason}
			}
		}
		return nil
	}

	lower := strings.ToLower(content)
	for _, b := range bots {
		if b.Name != "" && strings.Contains(lower, strings.ToLower(b.Name)) {
			return &RouteResult{Bot: b, Confidence: 0.3, Reason: "name mentioned in response"}
		}
	}
	return nil
}

const supervisorPrompt = `You are a routing supervisor for a user's assistant bots. Decide which bot should handle the user's message.

Available bots:
%s
Output format (strict JSON):
{ "botName": "exact bot name", "confidence": 0.0-1.0, "reason": "one sentence" }

If no bot fits, use an empty botName. Output JSON directly, without a markdown code fence.`
