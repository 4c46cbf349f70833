// Package store persists conversations and messages in SQLite. It is the
// authoritative side of the display state; the overlay in usecase is the
// ephemeral side.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"parley/internal/domain"
)

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ domain.ConversationStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id                     TEXT PRIMARY KEY,
			title                  TEXT NOT NULL,
			source_conversation_id TEXT NOT NULL DEFAULT '',
			source_message_id      TEXT NOT NULL DEFAULT '',
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL,
			role              TEXT NOT NULL,
			content           TEXT NOT NULL DEFAULT '',
			reasoning         TEXT NOT NULL DEFAULT '',
			model             TEXT NOT NULL DEFAULT '',
			provider          TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'done',
			attachments       TEXT NOT NULL DEFAULT '[]',
			citations         TEXT NOT NULL DEFAULT '[]',
			parent_message_id TEXT NOT NULL DEFAULT '',
			finish_reason     TEXT NOT NULL DEFAULT '',
			error_text        TEXT NOT NULL DEFAULT '',
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens      INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates an empty conversation with the given title.
func (s *SQLiteStore) CreateConversation(title string) (*domain.Conversation, error) {
	conv := domain.Conversation{
		ID:        newID(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.Exec(
		"INSERT INTO conversations (id, title, source_conversation_id, source_message_id, created_at, updated_at) VALUES (?, ?, '', '', ?, ?)",
		conv.ID, conv.Title,
		conv.CreatedAt.Format(time.RFC3339Nano), conv.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// CreateConversationFrom creates a conversation branched from
// sourceConversationID at sourceMessageID. A non-empty contextSummary is
// stored as a leading context-role message so the new conversation carries
// continuity from the old one.
func (s *SQLiteStore) CreateConversationFrom(sourceConversationID, sourceMessageID, title, contextSummary string) (*domain.Conversation, error) {
	conv := domain.Conversation{
		ID:                   newID(),
		Title:                title,
		SourceConversationID: sourceConversationID,
		SourceMessageID:      sourceMessageID,
		CreatedAt:            time.Now().UTC(),
	}
	conv.UpdatedAt = conv.CreatedAt

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("branch conversation: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO conversations (id, title, source_conversation_id, source_message_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		conv.ID, conv.Title, conv.SourceConversationID, conv.SourceMessageID,
		conv.CreatedAt.Format(time.RFC3339Nano), conv.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("branch conversation: %w", err)
	}

	if contextSummary != "" {
		ctxMsg := domain.Message{
			ID:              newID(),
			Role:            domain.RoleContext,
			Content:         contextSummary,
			Status:          domain.StatusDone,
			ParentMessageID: sourceMessageID,
			Timestamp:       conv.CreatedAt,
		}
		if err := insertMessage(tx, conv.ID, ctxMsg); err != nil {
			return nil, fmt.Errorf("store context summary: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("branch conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation returns a conversation by id.
func (s *SQLiteStore) GetConversation(id string) (*domain.Conversation, error) {
	row := s.db.QueryRow(
		"SELECT id, title, source_conversation_id, source_message_id, created_at, updated_at FROM conversations WHERE id = ?", id,
	)
	var conv domain.Conversation
	var createdStr, updatedStr string
	if err := row.Scan(&conv.ID, &conv.Title, &conv.SourceConversationID, &conv.SourceMessageID, &createdStr, &updatedStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &conv, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *SQLiteStore) ListConversations() ([]domain.Conversation, error) {
	rows, err := s.db.Query(
		"SELECT id, title, source_conversation_id, source_message_id, created_at, updated_at FROM conversations ORDER BY updated_at DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var createdStr, updatedStr string
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.SourceConversationID, &conv.SourceMessageID, &createdStr, &updatedStr); err != nil {
			return nil, err
		}
		conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrConversationNotFound
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage stores msg in conversationID and bumps the conversation's
// updated_at. An empty conversationID stores an orphan message (used when a
// session finishes after its conversation was deleted).
func (s *SQLiteStore) AppendMessage(conversationID string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(tx, conversationID, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if conversationID != "" {
		_, err = tx.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?",
			time.Now().UTC().Format(time.RFC3339Nano), conversationID)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateMessage rewrites the mutable fields of a persisted message.
func (s *SQLiteStore) UpdateMessage(msg domain.Message) error {
	attachments, citations, err := marshalMessageJSON(msg)
	if err != nil {
		return err
	}
	var pt, ct, tt int
	if msg.Usage != nil {
		pt, ct, tt = msg.Usage.PromptTokens, msg.Usage.CompletionTokens, msg.Usage.TotalTokens
	}

	res, err := s.db.Exec(`
		UPDATE messages SET content = ?, reasoning = ?, status = ?, attachments = ?,
			citations = ?, finish_reason = ?, error_text = ?,
			prompt_tokens = ?, completion_tokens = ?, total_tokens = ?
		WHERE id = ?`,
		msg.Content, msg.Reasoning, msg.Status, attachments, citations,
		msg.FinishReason, msg.ErrorText, pt, ct, tt, msg.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// GetMessage returns a message by id.
func (s *SQLiteStore) GetMessage(id string) (*domain.Message, error) {
	row := s.db.QueryRow(messageColumns+" FROM messages WHERE id = ?", id)
	msg, _, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *SQLiteStore) ListMessages(conversationID string) ([]domain.Message, error) {
	rows, err := s.db.Query(
		messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at, id",
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, _, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

const messageColumns = `SELECT id, conversation_id, role, content, reasoning, model, provider,
	status, attachments, citations, parent_message_id, finish_reason, error_text,
	prompt_tokens, completion_tokens, total_tokens, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, string, error) {
	var msg domain.Message
	var conversationID, attachments, citations, createdStr string
	var pt, ct, tt int
	err := row.Scan(&msg.ID, &conversationID, &msg.Role, &msg.Content, &msg.Reasoning,
		&msg.Model, &msg.Provider, &msg.Status, &attachments, &citations,
		&msg.ParentMessageID, &msg.FinishReason, &msg.ErrorText, &pt, &ct, &tt, &createdStr)
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, "", fmt.Errorf("unmarshal attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(citations), &msg.Citations); err != nil {
		return nil, "", fmt.Errorf("unmarshal citations: %w", err)
	}
	if tt > 0 || pt > 0 || ct > 0 {
		msg.Usage = &domain.Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: tt}
	}
	msg.Timestamp, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &msg, conversationID, nil
}

func insertMessage(tx *sql.Tx, conversationID string, msg domain.Message) error {
	attachments, citations, err := marshalMessageJSON(msg)
	if err != nil {
		return err
	}
	var pt, ct, tt int
	if msg.Usage != nil {
		pt, ct, tt = msg.Usage.PromptTokens, msg.Usage.CompletionTokens, msg.Usage.TotalTokens
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, reasoning, model,
			provider, status, attachments, citations, parent_message_id,
			finish_reason, error_text, prompt_tokens, completion_tokens,
			total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Role, msg.Content, msg.Reasoning, msg.Model,
		msg.Provider, msg.Status, attachments, citations, msg.ParentMessageID,
		msg.FinishReason, msg.ErrorText, pt, ct, tt,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func marshalMessageJSON(msg domain.Message) (attachments, citations string, err error) {
	a, err := json.Marshal(orEmptyAttachments(msg.Attachments))
	if err != nil {
		return "", "", fmt.Errorf("marshal attachments: %w", err)
	}
	c, err := json.Marshal(orEmptyCitations(msg.Citations))
	if err != nil {
		return "", "", fmt.Errorf("marshal citations: %w", err)
	}
	return string(a), string(c), nil
}

func orEmptyAttachments(a []domain.Attachment) []domain.Attachment {
	if a == nil {
		return []domain.Attachment{}
	}
	return a
}

func orEmptyCitations(c []domain.Citation) []domain.Citation {
	if c == nil {
		return []domain.Citation{}
	}
	return c
}
