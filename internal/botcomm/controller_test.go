package botcomm

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkingchat/linkingchat/internal/llm"
	"github.com/linkingchat/linkingchat/internal/push"
	"github.com/linkingchat/linkingchat/internal/store"
)

type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content, Provider: "stub"}, nil
}

type fixture struct {
	ctrl  *Controller
	store *store.Store
	hub   *push.Hub
	from  *store.Bot
	to    *store.Bot
	conv  *store.Conversation
}

// newFixture sets up two bots owned by user-1 and a DM between the
// target bot and the user.
func newFixture(t *testing.T, supervisorReply string) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "botcomm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	from := &store.Bot{OwnerID: "user-1", UserID: "bot-user-a", Name: "DevBot", Type: "assistant", Description: "Handles build and deploy questions"}
	to := &store.Bot{OwnerID: "user-1", UserID: "bot-user-b", Name: "OpsBot", Type: "assistant", Description: "Monitors servers and alerts"}
	for _, b := range []*store.Bot{from, to} {
		if err := st.CreateBot(b); err != nil {
			t.Fatalf("create bot: %v", err)
		}
	}
	conv, err := st.CreateConversation("DM", to.UserID, "user-1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	hub := push.NewHub()
	ctrl := NewController(st, &stubCompleter{content: supervisorReply}, hub, nil)
	return &fixture{ctrl: ctrl, store: st, hub: hub, from: from, to: to, conv: conv}
}

func (f *fixture) send(t *testing.T, params SendParams) *store.Message {
	t.Helper()
	if params.FromBotID == "" {
		params.FromBotID = f.from.ID
	}
	if params.ToBotID == "" {
		params.ToBotID = f.to.ID
	}
	if params.UserID == "" {
		params.UserID = "user-1"
	}
	if params.Content == "" {
		params.Content = "deploy finished"
	}
	msg, err := f.ctrl.SendBotMessage(context.Background(), params)
	if err != nil {
		t.Fatalf("SendBotMessage: %v", err)
	}
	return msg
}

func TestSendDeliversAndPushes(t *testing.T) {
	f := newFixture(t, "")
	ch, cancel := f.hub.Subscribe("user-1")
	defer cancel()

	msg := f.send(t, SendParams{Reason: "build done"})
	if msg == nil {
		t.Fatal("send rejected")
	}
	if msg.Type != store.MessageBotNotification {
		t.Errorf("type = %q", msg.Type)
	}
	if msg.AuthorID != f.to.UserID || msg.AuthorName != f.to.Name {
		t.Errorf("authored as %s/%s, want target bot", msg.AuthorID, msg.AuthorName)
	}

	var meta struct {
		TriggerSource TriggerSource `json:"triggerSource"`
	}
	if err := json.Unmarshal([]byte(msg.Metadata), &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.TriggerSource.BotID != f.from.ID || meta.TriggerSource.Reason != "build done" {
		t.Errorf("trigger source = %+v", meta.TriggerSource)
	}

	select {
	case n := <-ch:
		if n.Event != push.EventBotCrossNotify {
			t.Errorf("event = %q", n.Event)
		}
		p := n.Payload.(NotifyPayload)
		if p.FromBotName != "DevBot" || p.ToBotName != "OpsBot" {
			t.Errorf("payload = %+v", p)
		}
	default:
		t.Fatal("no notification pushed")
	}
}

func TestSendRejectsSelf(t *testing.T) {
	f := newFixture(t, "")
	msg := f.send(t, SendParams{ToBotID: f.from.ID})
	if msg != nil {
		t.Error("self send should be rejected")
	}
}

func TestSendRejectsCycle(t *testing.T) {
	f := newFixture(t, "")
	msg := f.send(t, SendParams{CallChain: []string{"bot-x", f.to.ID}})
	if msg != nil {
		t.Error("cycle should be rejected")
	}
}

func TestSendRejectsDeepChain(t *testing.T) {
	f := newFixture(t, "")
	if msg := f.send(t, SendParams{CallChain: []string{"a", "b", "c"}}); msg == nil {
		t.Error("chain of 3 should still pass")
	}
	if msg := f.send(t, SendParams{CallChain: []string{"a", "b", "c", "d"}}); msg != nil {
		t.Error("chain of 4 should be rejected")
	}
}

func TestSendRejectsUnknownBots(t *testing.T) {
	f := newFixture(t, "")
	if msg := f.send(t, SendParams{FromBotID: "nope"}); msg != nil {
		t.Error("unknown sender should be rejected")
	}
	if msg := f.send(t, SendParams{ToBotID: "nope"}); msg != nil {
		t.Error("unknown target should be rejected")
	}
	// Bots owned by someone else resolve the same as missing.
	if msg := f.send(t, SendParams{UserID: "user-2"}); msg != nil {
		t.Error("foreign owner should be rejected")
	}
}

func TestSendRejectsWithoutDM(t *testing.T) {
	f := newFixture(t, "")
	third := &store.Bot{OwnerID: "user-1", UserID: "bot-user-c", Name: "NoteBot", Type: "assistant"}
	if err := f.store.CreateBot(third); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	if msg := f.send(t, SendParams{ToBotID: third.ID}); msg != nil {
		t.Error("target without a DM conversation should be rejected")
	}
}

func TestRateLimitPerOrderedPair(t *testing.T) {
	lim := NewMemoryLimiter()
	for i := 0; i < RateLimit; i++ {
		if !lim.Allow("a", "b") {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if lim.Allow("a", "b") {
		t.Error("6th send in the window should be rejected")
	}
	// The reverse direction and other pairs have their own windows.
	if !lim.Allow("b", "a") {
		t.Error("reverse pair should be unaffected")
	}
	if !lim.Allow("a", "c") {
		t.Error("other pair should be unaffected")
	}
}

func TestRateLimitWindowSlides(t *testing.T) {
	now := time.Now()
	lim := &memoryLimiter{
		window:  RateWindow,
		limit:   RateLimit,
		history: make(map[string][]time.Time),
		now:     func() time.Time { return now },
	}
	for i := 0; i < RateLimit; i++ {
		lim.Allow("a", "b")
	}
	if lim.Allow("a", "b") {
		t.Fatal("window should be full")
	}
	now = now.Add(RateWindow + time.Second)
	if !lim.Allow("a", "b") {
		t.Error("old entries should have slid out of the window")
	}
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, "")
	for i := 0; i < RateLimit; i++ {
		if msg := f.send(t, SendParams{}); msg == nil {
			t.Fatalf("send %d should succeed", i+1)
		}
	}
	if msg := f.send(t, SendParams{}); msg != nil {
		t.Error("6th send should be rate limited")
	}
}

func TestDetectCycle(t *testing.T) {
	if !DetectCycle("b", []string{"a", "b"}) {
		t.Error("target in chain is a cycle")
	}
	if DetectCycle("c", []string{"a", "b"}) {
		t.Error("target not in chain is not a cycle")
	}
	if DetectCycle("a", nil) {
		t.Error("empty chain is never a cycle")
	}
}

func TestRouteViaSupervisorJSON(t *testing.T) {
	f := newFixture(t, `{"botName":"opsbot","confidence":0.9,"reason":"server question"}`)
	res, err := f.ctrl.RouteViaSupervisor(context.Background(), "user-1", "is the server up?")
	if err != nil {
		t.Fatalf("RouteViaSupervisor: %v", err)
	}
	if res == nil || res.Bot.Name != "OpsBot" {
		t.Fatalf("res = %+v, want OpsBot", res)
	}
	if res.Confidence != 0.9 {
		t.Errorf("confidence = %v", res.Confidence)
	}
}

func TestRouteViaSupervisorCodeFence(t *testing.T) {
	f := newFixture(t, "```json\n{\"botName\":\"DevBot\",\"reason\":\"build\"}\n```")
	res, err := f.ctrl.RouteViaSupervisor(context.Background(), "user-1", "why did the build fail?")
	if err != nil {
		t.Fatalf("RouteViaSupervisor: %v", err)
	}
	if res == nil || res.Bot.Name != "DevBot" {
		t.Fatalf("res = %+v, want DevBot", res)
	}
	if res.Confidence != 0.5 {
		t.Errorf("confidence = %v, want default 0.5", res.Confidence)
	}
}

func TestRouteViaSupervisorSubstringFallback(t *testing.T) {
	f := newFixture(t, "I think OpsBot is the best fit for this.")
	res, err := f.ctrl.RouteViaSupervisor(context.Background(), "user-1", "check disk usage")
	if err != nil {
		t.Fatalf("RouteViaSupervisor: %v", err)
	}
	if res == nil || res.Bot.Name != "OpsBot" {
		t.Fatalf("res = %+v, want OpsBot", res)
	}
	if res.Confidence != 0.3 {
		t.Errorf("confidence = %v, want 0.3", res.Confidence)
	}
}

func TestRouteViaSupervisorNoMatch(t *testing.T) {
	f := newFixture(t, `{"botName":"","confidence":0,"reason":"nothing fits"}`)
	res, err := f.ctrl.RouteViaSupervisor(context.Background(), "user-1", "hello")
	if err != nil {
		t.Fatalf("RouteViaSupervisor: %v", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
}

func TestRouteViaSupervisorUnknownBotName(t *testing.T) {
	// A parsed verdict naming an unknown bot is a decline, even when the
	// reason text mentions catalog bots. No substring rescue.
	f := newFixture(t, `{"botName":"UnknownBot","reason":"neither OpsBot nor DevBot fits"}`)
	res, err := f.ctrl.RouteViaSupervisor(context.Background(), "user-1", "hello")
	if err != nil {
		t.Fatalf("RouteViaSupervisor: %v", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
}

func TestRouteViaSupervisorNoBots(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctrl := NewController(st, &stubCompleter{content: "{}"}, push.NewHub(), nil)

	res, err := ctrl.RouteViaSupervisor(context.Background(), "user-1", "hello")
	if err != nil || res != nil {
		t.Errorf("res = %+v err = %v, want nil, nil", res, err)
	}
}

func TestRouteViaSupervisorProviderError(t *testing.T) {
	f := newFixture(t, "")
	f.ctrl.router = &stubCompleter{err: errors.New("all providers failed")}
	if _, err := f.ctrl.RouteViaSupervisor(context.Background(), "user-1", "hello"); err == nil {
		t.Error("provider failure should surface")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  plain  ", "plain"},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
