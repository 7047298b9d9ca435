package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist or is not owned by the
// requesting account.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    system_prompt TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'tool')),
    content TEXT NOT NULL,
    tool_name TEXT,
    input_tokens INTEGER,
    output_tokens INTEGER,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS usage_records (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    conversation_id TEXT,
    message_id TEXT,
    model TEXT NOT NULL,
    input_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    estimated_cost_usd TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS usage_records_user_idx ON usage_records(user_id, created_at);

CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    subscription_status TEXT NOT NULL DEFAULT 'free',
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    is_pinned INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS notes_user_idx ON notes(user_id, updated_at);

CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts4(
    title,
    content,
    tokenize=porter
);

-- Keep the FTS index in step with notes; docid mirrors notes.rowid
CREATE TRIGGER IF NOT EXISTS notes_ai AFTER INSERT ON notes BEGIN
    INSERT INTO notes_fts(docid, title, content)
    VALUES (new.rowid, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS notes_ad AFTER DELETE ON notes BEGIN
    DELETE FROM notes_fts WHERE docid = old.rowid;
END;

CREATE TRIGGER IF NOT EXISTS notes_au AFTER UPDATE ON notes BEGIN
    DELETE FROM notes_fts WHERE docid = old.rowid;
    INSERT INTO notes_fts(docid, title, content)
    VALUES (new.rowid, new.title, new.content);
END;`

type Database struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
	// between the request path and the persistence path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Databases created before notes could be pinned lack the column.
	if err := ensureColumn(db, "notes", "is_pinned", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func ensureColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// Ping is used by the health endpoint.
func (db *Database) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *Database) CreateConversation(ctx context.Context, userID, title string, systemPrompt *string) (*models.Conversation, error) {
	if title == "" {
		title = models.DefaultConversationTitle
	}
	now := db.now()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        title,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (id, user_id, title, system_prompt, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, nullString(systemPrompt), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns ErrNotFound both for missing ids and for ids owned
// by another account.
func (db *Database) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	row := db.db.QueryRowContext(ctx, `
        SELECT id, user_id, title, system_prompt, created_at, updated_at
        FROM conversations
        WHERE id = ? AND user_id = ?`, id, userID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) GetConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, user_id, title, system_prompt, created_at, updated_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY updated_at DESC`, userID)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// UpdateConversation applies the non-nil fields. An empty system prompt
// clears the stored one.
func (db *Database) UpdateConversation(ctx context.Context, id, userID string, title, systemPrompt *string) (*models.Conversation, error) {
	conv, err := db.GetConversation(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if title != nil {
		conv.Title = *title
	}
	if systemPrompt != nil {
		if *systemPrompt == "" {
			conv.SystemPrompt = nil
		} else {
			conv.SystemPrompt = systemPrompt
		}
	}
	conv.UpdatedAt = db.now()

	_, err = db.db.ExecContext(ctx, `
        UPDATE conversations SET title = ?, system_prompt = ?, updated_at = ?
        WHERE id = ? AND user_id = ?`,
		conv.Title, nullString(conv.SystemPrompt), conv.UpdatedAt, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return conv, nil
}

// RenameIfTitle sets the title only while it still equals from. It reports
// whether a row changed.
func (db *Database) RenameIfTitle(ctx context.Context, id, from, to string) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
        UPDATE conversations SET title = ?, updated_at = ?
        WHERE id = ? AND title = ?`, to, db.now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to rename conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *Database) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := db.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage inserts msg, filling ID and CreatedAt when unset.
func (db *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = db.now()
	}

	_, err := db.db.ExecContext(ctx, `
        INSERT INTO messages (id, conversation_id, user_id, role, content, tool_name, input_tokens, output_tokens, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, string(msg.Role), msg.Content,
		nullString(msg.ToolName), nullInt(msg.InputTokens), nullInt(msg.OutputTokens), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetConversationHistory returns the most recent limit messages in ascending
// creation order.
func (db *Database) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, conversation_id, user_id, role, content, tool_name, input_tokens, output_tokens, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`, conversationID, limit)
	if err != nil {
		return []models.Message{}, fmt.Errorf("failed to get conversation history: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg       models.Message
			role      string
			toolName  sql.NullString
			inTokens  sql.NullInt64
			outTokens sql.NullInt64
		)
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role, &msg.Content,
			&toolName, &inTokens, &outTokens, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, err
		}
		msg.Role = models.Role(role)
		msg.ToolName = stringPtr(toolName)
		msg.InputTokens = intPtr(inTokens)
		msg.OutputTokens = intPtr(outTokens)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return []models.Message{}, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetProfile falls back to the free tier when the account has no profile row.
func (db *Database) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	profile := &models.Profile{UserID: userID, SubscriptionStatus: models.StatusFree}
	var status string
	err := db.db.QueryRowContext(ctx,
		"SELECT subscription_status, updated_at FROM profiles WHERE user_id = ?", userID).
		Scan(&status, &profile.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	profile.SubscriptionStatus = models.SubscriptionStatus(status)
	return profile, nil
}

// SetSubscriptionStatus is called by the billing collaborator.
func (db *Database) SetSubscriptionStatus(ctx context.Context, userID string, status models.SubscriptionStatus) error {
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO profiles (user_id, subscription_status, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET subscription_status = excluded.subscription_status, updated_at = excluded.updated_at`,
		userID, string(status), db.now())
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv   models.Conversation
		prompt sql.NullString
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &prompt, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.SystemPrompt = stringPtr(prompt)
	return &conv, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
