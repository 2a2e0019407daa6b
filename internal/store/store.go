// Package store provides sqlite persistence for drafts, suggestions,
// bots, conversations, and messages.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is missing, owned by another
// user, or no longer in the expected status.
var ErrNotFound = errors.New("record not found")

// Draft statuses. PENDING is the only non-terminal status; a terminal
// status is never re-entered or overwritten.
const (
	DraftPending  = "PENDING"
	DraftApproved = "APPROVED"
	DraftRejected = "REJECTED"
	DraftExpired  = "EXPIRED"
)

// Suggestion statuses.
const (
	SuggestionPending   = "PENDING"
	SuggestionAccepted  = "ACCEPTED"
	SuggestionDismissed = "DISMISSED"
)

// Suggestion types.
const (
	SuggestionWhisper    = "WHISPER"
	SuggestionPredictive = "PREDICTIVE"
)

// Message types.
const (
	MessageText            = "TEXT"
	MessageBotNotification = "BOT_NOTIFICATION"
)

// Draft types.
const (
	DraftTypeMessage = "message"
	DraftTypeCommand = "command"
)

// DraftContent is the structured body of a draft.
type DraftContent struct {
	Content string         `json:"content"`
	Action  string         `json:"action,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// Draft is an AI-proposed message or command awaiting human approval.
type Draft struct {
	ID            string
	UserID        string
	ConverseID    string
	BotID         string
	BotName       string
	DraftType     string
	Content       DraftContent
	Status        string
	RejectReason  string
	EditedContent *DraftContent
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Suggestion is a whisper or predictive suggestion record. Payload is
// the engine-specific JSON body. SelectedIndex is -1 until accepted.
type Suggestion struct {
	ID            string
	Type          string
	UserID        string
	ConverseID    string
	MessageID     string
	Payload       json.RawMessage
	Status        string
	SelectedIndex int
	CreatedAt     time.Time
}

// Bot is an automated agent owned by a user. UserID is the bot's own
// user identity in conversations.
type Bot struct {
	ID          string
	OwnerID     string
	UserID      string
	Name        string
	Type        string
	Description string
	CreatedAt   time.Time
}

// Conversation is a DM or group thread.
type Conversation struct {
	ID        string
	Type      string
	CreatedAt time.Time
}

// Message is a persisted chat message. Metadata carries optional JSON
// such as the trigger source of a cross-bot notification.
type Message struct {
	ID         string
	ConverseID string
	AuthorID   string
	AuthorName string
	Type       string
	Content    string
	Metadata   string
	CreatedAt  time.Time
}

// DeviceCommand is a shell command queued for a user device.
type DeviceCommand struct {
	ID        string
	UserID    string
	DeviceID  string
	Command   string
	Status    string
	Output    string
	ExitCode  int
	CreatedAt time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	// Best-effort migrations for older databases (no-op when current).
	_, _ = db.Exec(`ALTER TABLE drafts ADD COLUMN bot_name TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE suggestions ADD COLUMN selected_index INTEGER`)
	_, _ = db.Exec(`ALTER TABLE messages ADD COLUMN author_name TEXT NOT NULL DEFAULT ''`)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Drafts
// ---------------------------------------------------------------------------

// CreateDraft persists a new PENDING draft. A missing ID is generated.
func (s *Store) CreateDraft(d *Draft) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DraftPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	content, err := json.Marshal(d.Content)
	if err != nil {
		return fmt.Errorf("marshal draft content: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO drafts
		(id, user_id, converse_id, bot_id, bot_name, draft_type, content, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.ConverseID, d.BotID, d.BotName, d.DraftType,
		string(content), d.Status, d.ExpiresAt.UTC(), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

// GetDraft loads a draft by id regardless of owner or status.
func (s *Store) GetDraft(id string) (*Draft, error) {
	row := s.db.QueryRow(`SELECT id, user_id, converse_id, bot_id, bot_name, draft_type,
		content, status, COALESCE(reject_reason, ''), edited_content, expires_at, created_at
		FROM drafts WHERE id = ?`, id)
	return scanDraft(row)
}

// GetPendingDraft loads a draft filtered by (id, userID, status=PENDING).
func (s *Store) GetPendingDraft(id, userID string) (*Draft, error) {
	row := s.db.QueryRow(`SELECT id, user_id, converse_id, bot_id, bot_name, draft_type,
		content, status, COALESCE(reject_reason, ''), edited_content, expires_at, created_at
		FROM drafts WHERE id = ? AND user_id = ? AND status = ?`, id, userID, DraftPending)
	return scanDraft(row)
}

// MarkDraftApproved transitions a PENDING draft to APPROVED, optionally
// recording edited content. Returns false when the draft was already
// out of PENDING, so exactly one concurrent writer wins.
func (s *Store) MarkDraftApproved(id string, edited *DraftContent) (bool, error) {
	var editedJSON sql.NullString
	if edited != nil {
		b, err := json.Marshal(edited)
		if err != nil {
			return false, fmt.Errorf("marshal edited content: %w", err)
		}
		editedJSON = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.db.Exec(`UPDATE drafts SET status = ?, edited_content = ?
		WHERE id = ? AND status = ?`, DraftApproved, editedJSON, id, DraftPending)
	if err != nil {
		return false, fmt.Errorf("approve draft: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkDraftRejected transitions a PENDING draft to REJECTED.
func (s *Store) MarkDraftRejected(id, reason string) (bool, error) {
	res, err := s.db.Exec(`UPDATE drafts SET status = ?, reject_reason = ?
		WHERE id = ? AND status = ?`, DraftRejected, reason, id, DraftPending)
	if err != nil {
		return false, fmt.Errorf("reject draft: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkDraftExpired transitions a PENDING draft to EXPIRED.
func (s *Store) MarkDraftExpired(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE drafts SET status = ?
		WHERE id = ? AND status = ?`, DraftExpired, id, DraftPending)
	if err != nil {
		return false, fmt.Errorf("expire draft: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// BackdateDraftExpiry rewrites a draft's deadline. Test helper for
// exercising expiry paths without waiting out the TTL.
func (s *Store) BackdateDraftExpiry(id string, expiresAt time.Time) error {
	_, err := s.db.Exec(`UPDATE drafts SET expires_at = ? WHERE id = ?`, expiresAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("backdate draft: %w", err)
	}
	return nil
}

// ListOverdueDrafts returns PENDING drafts whose deadline has passed.
func (s *Store) ListOverdueDrafts(now time.Time, limit int) ([]*Draft, error) {
	rows, err := s.db.Query(`SELECT id, user_id, converse_id, bot_id, bot_name, draft_type,
		content, status, COALESCE(reject_reason, ''), edited_content, expires_at, created_at
		FROM drafts WHERE status = ? AND expires_at < ? LIMIT ?`,
		DraftPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*Draft, error) {
	var d Draft
	var content string
	var edited sql.NullString
	err := row.Scan(&d.ID, &d.UserID, &d.ConverseID, &d.BotID, &d.BotName, &d.DraftType,
		&content, &d.Status, &d.RejectReason, &edited, &d.ExpiresAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &d.Content); err != nil {
		return nil, fmt.Errorf("decode draft content: %w", err)
	}
	if edited.Valid {
		var ec DraftContent
		if err := json.Unmarshal([]byte(edited.String), &ec); err == nil {
			d.EditedContent = &ec
		}
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// Suggestions
// ---------------------------------------------------------------------------

// CreateSuggestion persists a new PENDING suggestion.
func (s *Store) CreateSuggestion(sg *Suggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	if sg.Status == "" {
		sg.Status = SuggestionPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO suggestions
		(id, type, user_id, converse_id, message_id, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.Type, sg.UserID, sg.ConverseID, sg.MessageID,
		string(sg.Payload), sg.Status, sg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

// GetSuggestion loads a suggestion scoped to its owner.
func (s *Store) GetSuggestion(id, userID string) (*Suggestion, error) {
	row := s.db.QueryRow(`SELECT id, type, user_id, converse_id, COALESCE(message_id, ''),
		payload, status, COALESCE(selected_index, -1), created_at
		FROM suggestions WHERE id = ? AND user_id = ?`, id, userID)
	var sg Suggestion
	var payload string
	err := row.Scan(&sg.ID, &sg.Type, &sg.UserID, &sg.ConverseID, &sg.MessageID,
		&payload, &sg.Status, &sg.SelectedIndex, &sg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan suggestion: %w", err)
	}
	sg.Payload = json.RawMessage(payload)
	return &sg, nil
}

// MarkSuggestionAccepted transitions a PENDING suggestion to ACCEPTED
// with the chosen index. Returns false when already terminal.
func (s *Store) MarkSuggestionAccepted(id, userID string, selectedIndex int) (bool, error) {
	res, err := s.db.Exec(`UPDATE suggestions SET status = ?, selected_index = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		SuggestionAccepted, selectedIndex, id, userID, SuggestionPending)
	if err != nil {
		return false, fmt.Errorf("accept suggestion: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkSuggestionDismissed transitions a PENDING suggestion to DISMISSED.
func (s *Store) MarkSuggestionDismissed(id, userID string) (bool, error) {
	res, err := s.db.Exec(`UPDATE suggestions SET status = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		SuggestionDismissed, id, userID, SuggestionPending)
	if err != nil {
		return false, fmt.Errorf("dismiss suggestion: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ---------------------------------------------------------------------------
// Bots
// ---------------------------------------------------------------------------

// CreateBot persists a bot.
func (s *Store) CreateBot(b *Bot) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO bots (id, owner_id, user_id, name, type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.UserID, b.Name, b.Type, b.Description, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// GetBotOwned loads a bot scoped to its owner.
func (s *Store) GetBotOwned(id, ownerID string) (*Bot, error) {
	row := s.db.QueryRow(`SELECT id, owner_id, user_id, name, type, description, created_at
		FROM bots WHERE id = ? AND owner_id = ?`, id, ownerID)
	var b Bot
	err := row.Scan(&b.ID, &b.OwnerID, &b.UserID, &b.Name, &b.Type, &b.Description, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bot: %w", err)
	}
	return &b, nil
}

// ListBotsByOwner returns all bots owned by a user.
func (s *Store) ListBotsByOwner(ownerID string) ([]*Bot, error) {
	rows, err := s.db.Query(`SELECT id, owner_id, user_id, name, type, description, created_at
		FROM bots WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.UserID, &b.Name, &b.Type, &b.Description, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, &b)
	}
	return bots, rows.Err()
}

// ---------------------------------------------------------------------------
// Conversations and messages
// ---------------------------------------------------------------------------

// CreateConversation persists a conversation with the given members.
func (s *Store) CreateConversation(convType string, memberIDs ...string) (*Conversation, error) {
	c := &Conversation{ID: uuid.NewString(), Type: convType, CreatedAt: time.Now().UTC()}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO conversations (id, type, created_at) VALUES (?, ?, ?)`,
		c.ID, c.Type, c.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	for _, uid := range memberIDs {
		if _, err := tx.Exec(`INSERT INTO conversation_members (converse_id, user_id) VALUES (?, ?)`,
			c.ID, uid); err != nil {
			return nil, fmt.Errorf("insert member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// FindDMConversation returns the DM conversation between two users, or
// ErrNotFound when none exists.
func (s *Store) FindDMConversation(userA, userB string) (*Conversation, error) {
	row := s.db.QueryRow(`SELECT c.id, c.type, c.created_at
		FROM conversations c
		JOIN conversation_members m1 ON m1.converse_id = c.id AND m1.user_id = ?
		JOIN conversation_members m2 ON m2.converse_id = c.id AND m2.user_id = ?
		WHERE c.type = 'DM' LIMIT 1`, userA, userB)
	var c Conversation
	err := row.Scan(&c.ID, &c.Type, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// CreateMessage persists a message.
func (s *Store) CreateMessage(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = MessageText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO messages
		(id, converse_id, author_id, author_name, type, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConverseID, m.AuthorID, m.AuthorName, m.Type, m.Content, m.Metadata, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the most recent n non-deleted messages in
// a conversation, oldest first.
func (s *Store) ListRecentMessages(converseID string, n int) ([]*Message, error) {
	rows, err := s.db.Query(`SELECT id, converse_id, author_id, author_name, type, content, metadata, created_at
		FROM messages WHERE converse_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT ?`, converseID, n)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConverseID, &m.AuthorID, &m.AuthorName, &m.Type,
			&m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ---------------------------------------------------------------------------
// Device commands
// ---------------------------------------------------------------------------

// CreateDeviceCommand queues a command for a device.
func (s *Store) CreateDeviceCommand(c *DeviceCommand) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = "queued"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO device_commands (id, user_id, device_id, command, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.DeviceID, c.Command, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert device command: %w", err)
	}
	return nil
}

// CompleteDeviceCommand records the execution result of a command.
func (s *Store) CompleteDeviceCommand(id, output string, exitCode int) error {
	status := "succeeded"
	if exitCode != 0 {
		status = "failed"
	}
	_, err := s.db.Exec(`UPDATE device_commands
		SET status = ?, output = ?, exit_code = ?, completed_at = ? WHERE id = ?`,
		status, output, exitCode, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete device command: %w", err)
	}
	return nil
}
