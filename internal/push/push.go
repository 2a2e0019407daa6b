// Package push delivers fire-and-forget notifications to a user's
// active connections.
package push

import (
	"log/slog"
	"sync"
	"time"
)

// Well-known event names pushed to clients.
const (
	EventWhisperSuggestions = "ai:whisper:suggestions"
	EventDraftCreated       = "ai:draft:created"
	EventDraftExpired       = "ai:draft:expired"
	EventPredictiveAction   = "ai:predictive:action"
	EventBotCrossNotify     = "bot:cross:notify"
)

// Notification is one event addressed to a user.
type Notification struct {
	UserID    string    `json:"user_id"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers notifications to a user. Delivery is best-effort;
// no acknowledgment is required.
type Notifier interface {
	PushToUser(userID, event string, payload any)
}

// Hub is an in-process notifier fanning out to per-user subscribers.
// Subscribers with a full buffer are skipped rather than blocked.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan Notification
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Notification)}
}

// Subscribe registers a new subscriber for a user and returns its
// channel plus a cancel function.
func (h *Hub) Subscribe(userID string) (<-chan Notification, func()) {
	ch := make(chan Notification, 32)
	h.mu.Lock()
	h.subs[userID] = append(h.subs[userID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.subs[userID]
		for i, c := range chans {
			if c == ch {
				h.subs[userID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
	}
	return ch, cancel
}

// PushToUser delivers an event to all of a user's subscribers.
func (h *Hub) PushToUser(userID, event string, payload any) {
	n := Notification{UserID: userID, Event: event, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	chans := h.subs[userID]
	h.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- n:
		default:
			slog.Warn("Push dropped, subscriber buffer full", "user", userID, "event", event)
		}
	}
}

// Multi fans a push out to several notifiers.
type Multi []Notifier

// PushToUser delivers the event through every wrapped notifier.
func (m Multi) PushToUser(userID, event string, payload any) {
	for _, n := range m {
		n.PushToUser(userID, event, payload)
	}
}
