package draft

import (
	"context"
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

func newTestService(t *testing.T, content string) (*Service, *store.Store, *push.Hub) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	hub := push.NewHub()
	return NewService(st, &stubCompleter{content: content}, hub), st, hub
}

func createDraft(t *testing.T, svc *Service, draftType string) string {
	t.Helper()
	id, err := svc.Create(context.Background(), CreateParams{
		UserID:     "user-1",
		ConverseID: "conv-1",
		BotID:      "bot-1",
		BotName:    "helper",
		DraftType:  draftType,
		UserIntent: "tell alice the deploy is done",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestApproveBeforeExpiry(t *testing.T) {
	svc, st, _ := newTestService(t, `{"content":"Deploy finished, all green."}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	content, err := svc.Approve("user-1", id)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if content.Content != "Deploy finished, all green." {
		t.Errorf("content = %q", content.Content)
	}

	d, err := st.GetDraft(id)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.Status != store.DraftApproved {
		t.Errorf("status = %q, want APPROVED", d.Status)
	}
}

func TestApproveAfterExpiryFailsAndExpires(t *testing.T) {
	svc, st, _ := newTestService(t, `{"content":"too late"}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	// Backdate the deadline so the draft is overdue.
	if err := st.BackdateDraftExpiry(id, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if _, err := svc.Approve("user-1", id); !errors.Is(err, ErrExpired) {
		t.Fatalf("Approve err = %v, want ErrExpired", err)
	}

	d, err := st.GetDraft(id)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.Status != store.DraftExpired {
		t.Errorf("status = %q, want EXPIRED", d.Status)
	}
}

func TestApproveWrongUser(t *testing.T) {
	svc, _, _ := newTestService(t, `{"content":"hi"}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	if _, err := svc.Approve("someone-else", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve err = %v, want ErrNotFound", err)
	}
}

func TestRejectThenApproveFails(t *testing.T) {
	svc, _, _ := newTestService(t, `{"content":"hi"}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	if err := svc.Reject("user-1", id, "not now"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := svc.Approve("user-1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve after reject err = %v, want ErrNotFound", err)
	}
}

func TestEditAndApprove(t *testing.T) {
	svc, st, _ := newTestService(t, `{"content":"original wording"}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	edited := store.DraftContent{Content: "edited wording"}
	got, err := svc.EditAndApprove("user-1", id, edited)
	if err != nil {
		t.Fatalf("EditAndApprove: %v", err)
	}
	if got.Content != "edited wording" {
		t.Errorf("returned content = %q", got.Content)
	}

	d, _ := st.GetDraft(id)
	if d.Status != store.DraftApproved {
		t.Errorf("status = %q, want APPROVED", d.Status)
	}
	if d.EditedContent == nil || d.EditedContent.Content != "edited wording" {
		t.Errorf("edited content = %+v, want edited wording", d.EditedContent)
	}
	if d.Content.Content != "original wording" {
		t.Errorf("original content = %q, must stay intact", d.Content.Content)
	}
}

func TestExpireIsIdempotent(t *testing.T) {
	svc, st, hub := newTestService(t, `{"content":"hi"}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	if err := svc.Expire(id); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if err := svc.Expire(id); err != nil {
		t.Fatalf("second Expire: %v", err)
	}
	if err := svc.Expire("no-such-draft"); err != nil {
		t.Fatalf("Expire missing draft: %v", err)
	}

	d, _ := st.GetDraft(id)
	if d.Status != store.DraftExpired {
		t.Errorf("status = %q, want EXPIRED", d.Status)
	}

	// Exactly one expiry push despite the repeated calls.
	select {
	case n := <-ch:
		if n.Event != push.EventDraftExpired {
			t.Errorf("event = %q", n.Event)
		}
	default:
		t.Fatal("no expiry notification pushed")
	}
	select {
	case n := <-ch:
		t.Errorf("unexpected second notification %q", n.Event)
	default:
	}
}

func TestExpireDoesNotTouchApproved(t *testing.T) {
	svc, st, _ := newTestService(t, `{"content":"hi"}`)
	id := createDraft(t, svc, store.DraftTypeMessage)

	if _, err := svc.Approve("user-1", id); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := svc.Expire(id); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	d, _ := st.GetDraft(id)
	if d.Status != store.DraftApproved {
		t.Errorf("status = %q, terminal state must not be re-entered", d.Status)
	}
}

func TestCreatePushesNotification(t *testing.T) {
	svc, _, hub := newTestService(t, `{"content":"hello"}`)
	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	id := createDraft(t, svc, store.DraftTypeMessage)

	select {
	case n := <-ch:
		if n.Event != push.EventDraftCreated {
			t.Fatalf("event = %q", n.Event)
		}
		p, ok := n.Payload.(CreatedPayload)
		if !ok {
			t.Fatalf("payload type %T", n.Payload)
		}
		if p.DraftID != id || p.Content.Content != "hello" {
			t.Errorf("payload = %+v", p)
		}
	default:
		t.Fatal("no created notification pushed")
	}
}

func TestCreateProviderFailure(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	svc := NewService(st, &stubCompleter{err: errors.New("all providers failed")}, push.NewHub())

	if _, err := svc.Create(context.Background(), CreateParams{
		UserID: "user-1", ConverseID: "conv-1", BotID: "bot-1",
		DraftType: store.DraftTypeMessage, UserIntent: "hi",
	}); err == nil {
		t.Fatal("Create should fail when generation fails")
	}
}

func TestSweeperExpiresOverdue(t *testing.T) {
	svc, st, _ := newTestService(t, `{"content":"hi"}`)
	overdueID := createDraft(t, svc, store.DraftTypeMessage)
	freshID := createDraft(t, svc, store.DraftTypeMessage)

	if err := st.BackdateDraftExpiry(overdueID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	NewSweeper(svc).sweep(time.Now())

	if d, _ := st.GetDraft(overdueID); d.Status != store.DraftExpired {
		t.Errorf("overdue draft status = %q, want EXPIRED", d.Status)
	}
	if d, _ := st.GetDraft(freshID); d.Status != store.DraftPending {
		t.Errorf("fresh draft status = %q, want PENDING", d.Status)
	}
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		draftType string
		want      store.DraftContent
	}{
		{
			name:      "message json",
			input:     `{"content":"see you at 3"}`,
			draftType: store.DraftTypeMessage,
			want:      store.DraftContent{Content: "see you at 3"},
		},
		{
			name:      "message alt key",
			input:     `{"message":"see you at 3"}`,
			draftType: store.DraftTypeMessage,
			want:      store.DraftContent{Content: "see you at 3"},
		},
		{
			name:      "message plain text fallback",
			input:     "  just plain text  ",
			draftType: store.DraftTypeMessage,
			want:      store.DraftContent{Content: "just plain text"},
		},
		{
			name:      "command json",
			input:     `{"description":"list files","command":"ls -la","args":{"cwd":"/tmp"}}`,
			draftType: store.DraftTypeCommand,
			want: store.DraftContent{
				Content: "list files",
				Action:  "ls -la",
				Args:    map[string]any{"cwd": "/tmp"},
			},
		},
		{
			name:      "command action key fallback",
			input:     `{"description":"restart","action":"systemctl restart app"}`,
			draftType: store.DraftTypeCommand,
			want:      store.DraftContent{Content: "restart", Action: "systemctl restart app"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseContent(tt.input, tt.draftType)
			if got.Content != tt.want.Content || got.Action != tt.want.Action {
				t.Errorf("ParseContent() = %+v, want %+v", got, tt.want)
			}
			if len(tt.want.Args) > 0 {
				if got.Args["cwd"] != tt.want.Args["cwd"] {
					t.Errorf("Args = %v, want %v", got.Args, tt.want.Args)
				}
			}
		})
	}
}
