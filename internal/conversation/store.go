// Package conversation persists conversations and their message turns.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pwviptbl/AI-English-Mentor/internal/database"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// Conversation 一个学习者与导师的会话
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Topic         string    `json:"topic"`
	PersonaPrompt string    `json:"persona_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one persisted turn. User turns carry the raw and corrected
// text, assistant turns carry the final reply.
type Message struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Role             string    `json:"role"`
	ContentRaw       string    `json:"content_raw,omitempty"`
	ContentCorrected string    `json:"content_corrected,omitempty"`
	ContentFinal     string    `json:"content_final,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	MetaJSON         string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// HistoryText returns the text a provider should see for this turn:
// corrected text for user turns when present, final text otherwise.
func (m Message) HistoryText() string {
	if m.Role == "user" {
		if m.ContentCorrected != "" {
			return m.ContentCorrected
		}
		return m.ContentRaw
	}
	return m.ContentFinal
}

// Store reads and writes conversations and messages.
type Store struct {
	db database.DB
}

// NewStore creates a conversation store over the shared database handle.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Create starts a new conversation for a user and returns it.
func (s *Store) Create(ctx context.Context, userID, topic, personaPrompt string) (Conversation, error) {
	c := Conversation{
		ID:            uuid.NewString(),
		UserID:        userID,
		Topic:         topic,
		PersonaPrompt: personaPrompt,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, topic, persona_prompt, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Topic, c.PersonaPrompt, c.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// Fetch loads one conversation, verifying ownership.
func (s *Store) Fetch(ctx context.Context, id, userID string) (Conversation, bool, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, topic, persona_prompt, created_at
		FROM conversations WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Topic, &c.PersonaPrompt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return c, true, nil
}

// AppendMessage persists one turn and returns it with a fresh id.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content_raw, content_corrected, content_final, provider, model, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.ContentRaw, m.ContentCorrected, m.ContentFinal, m.Provider, m.Model, m.MetaJSON, m.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// FetchMessage loads one message and checks that it belongs to the user.
func (s *Store) FetchMessage(ctx context.Context, messageID, userID string) (Message, bool, error) {
	var m Message
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.conversation_id, m.role, m.content_raw, m.content_corrected, m.content_final, m.provider, m.model, m.meta_json, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = ? AND c.user_id = ?`,
		messageID, userID,
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.ContentRaw, &m.ContentCorrected, &m.ContentFinal, &m.Provider, &m.Model, &m.MetaJSON, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

// FetchRecentMessages returns the last limit turns of a conversation in
// chronological order (oldest first), ready for prompt building.
func (s *Store) FetchRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	// Newest-first page, reversed in memory to oldest-first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content_raw, content_corrected, content_final, provider, model, meta_json, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.ContentRaw, &m.ContentCorrected, &m.ContentFinal, &m.Provider, &m.Model, &m.MetaJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// History converts recent messages into provider history lines.
func History(messages []Message) []types.HistoryMessage {
	out := make([]types.HistoryMessage, 0, len(messages))
	for _, m := range messages {
		text := m.HistoryText()
		if text == "" {
			continue
		}
		out = append(out, types.HistoryMessage{Role: m.Role, Content: text})
	}
	return out
}
