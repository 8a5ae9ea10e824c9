package local

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/conversekit/chat-gateway/internal/store"
)

// SQLiteStore is the self-hosted conversation store binding. It implements
// the same boundary interface as the hosted platform so the orchestrator
// cannot tell them apart.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS contacts (
        id TEXT PRIMARY KEY, -- UUID
        fingerprint TEXT UNIQUE NOT NULL,
        email TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS bots (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        backstory TEXT NOT NULL DEFAULT '',
        model TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        contact_id TEXT NOT NULL,
        bot_id TEXT,
        name TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (contact_id) REFERENCES contacts (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        type TEXT NOT NULL CHECK (type IN ('user', 'bot', 'call', 'result', 'context')),
        text TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// EnsureContact upserts a contact by fingerprint. Repeated calls for the
// same fingerprint return the same id; email and name are refreshed.
func (s *SQLiteStore) EnsureContact(ctx context.Context, params store.EnsureContactParams) (string, error) {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO contacts (id, fingerprint, email, name) VALUES (?, ?, ?, ?)
        ON CONFLICT(fingerprint) DO UPDATE SET email = excluded.email, name = excluded.name`,
		uuid.NewString(), params.Fingerprint, params.Email, params.Name)
	if err != nil {
		return "", fmt.Errorf("failed to upsert contact: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, "SELECT id FROM contacts WHERE fingerprint = ?", params.Fingerprint).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve contact id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListBots(ctx context.Context) ([]store.Bot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, description, backstory, model FROM bots ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []store.Bot
	for rows.Next() {
		var bot store.Bot
		if err := rows.Scan(&bot.ID, &bot.Name, &bot.Description, &bot.Backstory, &bot.Model); err != nil {
			return nil, fmt.Errorf("failed to scan bot row: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// GetBot looks up one bot's configuration. Used by the local completer to
// resolve a named bot into its backstory and model.
func (s *SQLiteStore) GetBot(ctx context.Context, botID string) (*store.Bot, error) {
	var bot store.Bot
	err := s.db.QueryRowContext(ctx, "SELECT id, name, description, backstory, model FROM bots WHERE id = ?", botID).
		Scan(&bot.ID, &bot.Name, &bot.Description, &bot.Backstory, &bot.Model)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return &bot, nil
}

// CreateBot registers an agent configuration. Not part of the boundary
// interface; bots are seeded by the operator.
func (s *SQLiteStore) CreateBot(ctx context.Context, bot store.Bot) (string, error) {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO bots (id, name, description, backstory, model) VALUES (?, ?, ?, ?, ?)",
		bot.ID, bot.Name, bot.Description, bot.Backstory, bot.Model)
	if err != nil {
		return "", fmt.Errorf("failed to insert bot: %w", err)
	}
	return bot.ID, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, params store.CreateConversationParams) (string, error) {
	id := uuid.NewString()
	var botID sql.NullString
	if params.BotID != "" {
		botID = sql.NullString{String: params.BotID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, contact_id, bot_id, created_at) VALUES (?, ?, ?, ?)",
		id, params.ContactID, botID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert conversation: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, conversationID string, params store.UpdateConversationParams) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET name = ?, description = ? WHERE id = ?",
		params.Name, params.Description, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, contactID string, params store.ListConversationsParams) ([]store.Conversation, error) {
	order := "DESC"
	if params.Order == "asc" {
		order = "ASC"
	}
	take := params.Take
	if take <= 0 {
		take = 50
	}

	query := fmt.Sprintf(`
        SELECT id, contact_id, COALESCE(bot_id, ''), name, description, created_at
        FROM conversations WHERE contact_id = ?
        ORDER BY created_at %s LIMIT ?`, order)

	rows, err := s.db.QueryContext(ctx, query, contactID, take)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []store.Conversation
	for rows.Next() {
		var conv store.Conversation
		if err := rows.Scan(&conv.ID, &conv.ContactID, &conv.BotID, &conv.Name, &conv.Description, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// ListMessages returns a conversation's messages in creation order. The
// rowid tiebreak keeps messages created within the same timestamp tick in
// insert order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, type, text, created_at FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.Type, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID string, params store.CreateMessageParams) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, type, text, created_at) VALUES (?, ?, ?, ?, ?)",
		id, conversationID, params.Type, params.Text, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}
