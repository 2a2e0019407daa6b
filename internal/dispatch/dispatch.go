// Package dispatch runs the inbound event loop: chat messages flow in,
// whisper trigger detection runs on user messages, device results are
// recorded and fed to predictive analysis, and bot-to-bot sends pass
// through the communication controller. All AI work is fire and
// forget; a slow or failing engine never blocks the loop.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/linkingchat/linkingchat/internal/botcomm"
	"github.com/linkingchat/linkingchat/internal/store"
	"github.com/linkingchat/linkingchat/internal/whisper"
)

// ChatEvent is an inbound user message.
type ChatEvent struct {
	UserID     string
	ConverseID string
	MessageID  string
	Content    string
}

// DeviceEvent is a completed device command's output.
type DeviceEvent struct {
	UserID     string
	ConverseID string
	CommandID  string
	Output     string
	ExitCode   int
}

// BotEvent is a bot-to-bot notification request.
type BotEvent struct {
	FromBotID string
	ToBotID   string
	UserID    string
	Content   string
	Reason    string
	CallChain []string
}

// WhisperEngine is the whisper surface the loop needs.
type WhisperEngine interface {
	HandleTrigger(ctx context.Context, userID, converseID, messageID string)
}

// ResultSink records device command results and feeds failures onward.
type ResultSink interface {
	ReportResult(ctx context.Context, userID, converseID, commandID, output string, exitCode int) error
}

// BotSender delivers cross-bot notifications.
type BotSender interface {
	SendBotMessage(ctx context.Context, params botcomm.SendParams) (*store.Message, error)
}

// Loop consumes inbound events and fans work out to the AI engines.
type Loop struct {
	whisper WhisperEngine
	results ResultSink
	bots    BotSender

	chatCh   chan ChatEvent
	deviceCh chan DeviceEvent
	botCh    chan BotEvent
}

// NewLoop creates an event loop with buffered inbound queues.
func NewLoop(w WhisperEngine, results ResultSink, bots BotSender) *Loop {
	return &Loop{
		whisper:  w,
		results:  results,
		bots:     bots,
		chatCh:   make(chan ChatEvent, 64),
		deviceCh: make(chan DeviceEvent, 64),
		botCh:    make(chan BotEvent, 64),
	}
}

// SubmitChat enqueues a chat message. Drops the event when the queue is
// full rather than blocking the caller.
func (l *Loop) SubmitChat(ev ChatEvent) {
	select {
	case l.chatCh <- ev:
	default:
		slog.Warn("Chat queue full, dropping event", "converse", ev.ConverseID)
	}
}

// SubmitDeviceResult enqueues a device command result.
func (l *Loop) SubmitDeviceResult(ev DeviceEvent) {
	select {
	case l.deviceCh <- ev:
	default:
		slog.Warn("Device queue full, dropping event", "command", ev.CommandID)
	}
}

// SubmitBotMessage enqueues a bot-to-bot notification request.
func (l *Loop) SubmitBotMessage(ev BotEvent) {
	select {
	case l.botCh <- ev:
	default:
		slog.Warn("Bot queue full, dropping event", "from", ev.FromBotID)
	}
}

// Run processes events until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatch loop stopped")
			return ctx.Err()
		case ev := <-l.chatCh:
			l.handleChat(ctx, ev)
		case ev := <-l.deviceCh:
			l.handleDevice(ctx, ev)
		case ev := <-l.botCh:
			l.handleBot(ctx, ev)
		}
	}
}

func (l *Loop) handleChat(ctx context.Context, ev ChatEvent) {
	if !whisper.IsTrigger(ev.Content) {
		return
	}
	slog.Debug("Whisper trigger detected", "converse", ev.ConverseID, "message", ev.MessageID)
	go l.whisper.HandleTrigger(ctx, ev.UserID, ev.ConverseID, ev.MessageID)
}

func (l *Loop) handleDevice(ctx context.Context, ev DeviceEvent) {
	go func() {
		if err := l.results.ReportResult(ctx, ev.UserID, ev.ConverseID, ev.CommandID, ev.Output, ev.ExitCode); err != nil {
			slog.Error("Device result handling failed", "command", ev.CommandID, "error", err)
		}
	}()
}

func (l *Loop) handleBot(ctx context.Context, ev BotEvent) {
	go func() {
		if _, err := l.bots.SendBotMessage(ctx, botcomm.SendParams{
			FromBotID: ev.FromBotID,
			ToBotID:   ev.ToBotID,
			UserID:    ev.UserID,
			Content:   ev.Content,
			Reason:    ev.Reason,
			CallChain: ev.CallChain,
		}); err != nil {
			slog.Error("Bot message delivery failed", "from", ev.FromBotID, "to", ev.ToBotID, "error", err)
		}
	}()
}
