package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/validation"
)

const (
	defaultDirName  = ".local/share/coach"
	defaultFileName = "coach.db"
	// Fixed-width so stored timestamps sort lexically.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

	// Security constants
	maxMessageLength = 100000 // 100KB max message size
	defaultPageSize  = 50
)

// Store wraps access to the persistent conversation database.
type Store struct {
	db            *sql.DB
	preparedStmts map[string]*sql.Stmt
	preparedMutex sync.RWMutex
	now           func() time.Time
}

// Transcript is one page of a conversation plus the total message count.
type Transcript struct {
	Conversation  *conversation.Conversation
	TotalMessages int
	Page          int
	PageSize      int
}

// PaginationOptions holds pagination parameters for loading messages.
type PaginationOptions struct {
	Page     int // 1-based page number counted from the newest messages
	PageSize int // Number of messages per page
}

// Open initialises the storage layer, creating the database if necessary.
// An empty path selects ~/.local/share/coach/coach.db; ":memory:" keeps the
// database in memory.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, coachErrors.NewStorageError("open", err.Error(), err)
		}
		// Use connection string parameters for timeout and WAL
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", resolved)
	} else {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, coachErrors.NewStorageError("open", fmt.Sprintf("failed to open sqlite database: %v", err), err)
	}

	// Force single connection to prevent locking issues
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, coachErrors.NewStorageError("setup", fmt.Sprintf("failed to enable foreign keys: %v", err), err)
	}

	store := &Store{
		db:  db,
		now: time.Now,
	}

	if err := store.migrate(); err != nil {
		store.Close()
		return nil, err
	}

	if err := store.initializePreparedStatements(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

const summaryColumns = `c.id, c.title, c.created_at, c.updated_at, (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)`

// initializePreparedStatements sets up frequently used prepared statements.
func (s *Store) initializePreparedStatements() error {
	s.preparedStmts = make(map[string]*sql.Stmt)

	stmts := map[string]string{
		"ensureConversation":   `INSERT INTO conversations(id, title, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		"renameConversation":   `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		"saveInsights":         `UPDATE conversations SET insights = ?, updated_at = ? WHERE id = ?`,
		"deleteConversation":   `DELETE FROM conversations WHERE id = ?`,
		"listConversations":    `SELECT ` + summaryColumns + ` FROM conversations c ORDER BY c.updated_at DESC, c.id ASC LIMIT ?`,
		"getConversation":      `SELECT c.id, c.title, c.insights, c.created_at, c.updated_at FROM conversations c WHERE c.id = ?`,
		"getMessages":          `SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		"getMessagesPaginated": `SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ? OFFSET ?`,
		"getMessageCount":      `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`,
	}

	for name, query := range stmts {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return coachErrors.NewStorageError("prepare", fmt.Sprintf("prepare statement %s: %v", name, err), err)
		}
		s.preparedStmts[name] = stmt
	}

	return nil
}

// Close releases underlying database resources and prepared statements.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	var firstError error

	s.preparedMutex.Lock()
	for _, stmt := range s.preparedStmts {
		if err := stmt.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	s.preparedStmts = nil
	s.preparedMutex.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}

	return firstError
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            insights TEXT,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            conversation_id TEXT NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
            content TEXT NOT NULL,
            created_at TEXT NOT NULL,
            FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return coachErrors.NewStorageError("migrate", fmt.Sprintf("apply migration: %v", err), err)
		}
	}

	return nil
}

// getPreparedStmt safely retrieves a prepared statement.
func (s *Store) getPreparedStmt(name string) (*sql.Stmt, error) {
	s.preparedMutex.RLock()
	stmt := s.preparedStmts[name]
	s.preparedMutex.RUnlock()

	if stmt == nil {
		return nil, coachErrors.NewStorageError("prepare", fmt.Sprintf("prepared statement %s not found", name), nil)
	}

	return stmt, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return coachErrors.NewStorageError("init", "storage not initialised", nil)
	}
	return nil
}

func notFound(id string) error {
	return coachErrors.NewConversationError(id, "not found", coachErrors.ErrConversationNotFound)
}

// EnsureConversation creates the conversation when it does not exist yet and
// reports whether it did.
func (s *Store) EnsureConversation(ctx context.Context, id, title string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := validation.ValidateConversationID(id); err != nil {
		return false, err
	}
	title = titleOrDefault(title)

	stmt, err := s.getPreparedStmt("ensureConversation")
	if err != nil {
		return false, err
	}

	ts := formatTimestamp(s.now())
	res, err := stmt.ExecContext(ctx, id, title, ts, ts)
	if err != nil {
		return false, coachErrors.NewStorageError("ensure", fmt.Sprintf("insert conversation: %v", err), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, coachErrors.NewStorageError("ensure", fmt.Sprintf("rows affected: %v", err), err)
	}
	return n > 0, nil
}

// CreateConversation inserts a conversation with a fresh identifier.
func (s *Store) CreateConversation(ctx context.Context, title string) (*conversation.Conversation, error) {
	id := uuid.NewString()
	if _, err := s.EnsureConversation(ctx, id, title); err != nil {
		return nil, err
	}
	return s.LoadConversation(ctx, id)
}

// RenameConversation updates the stored title. An empty title restores the
// default one.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	if err := s.ready(); err != nil {
		return err
	}

	stmt, err := s.getPreparedStmt("renameConversation")
	if err != nil {
		return err
	}

	res, err := stmt.ExecContext(ctx, titleOrDefault(title), formatTimestamp(s.now()), id)
	if err != nil {
		return coachErrors.NewStorageError("rename", fmt.Sprintf("update conversation title: %v", err), err)
	}
	return requireRow(res, id)
}

// AppendMessages appends messages to the conversation in a single transaction.
func (s *Store) AppendMessages(ctx context.Context, id string, messages []conversation.Message) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil // Nothing to do
	}
	for _, message := range messages {
		if err := validateMessage(message); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coachErrors.NewStorageError("batch", fmt.Sprintf("failed to begin transaction: %v", err), err)
	}
	defer tx.Rollback()

	appendStmt, err := tx.PrepareContext(ctx, "INSERT INTO messages(id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return coachErrors.NewStorageError("batch", fmt.Sprintf("failed to prepare append statement: %v", err), err)
	}
	defer appendStmt.Close()

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", formatTimestamp(s.now()), id)
	if err != nil {
		return coachErrors.NewStorageError("batch", fmt.Sprintf("failed to touch conversation: %v", err), err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}

	for _, message := range messages {
		if _, err := appendStmt.ExecContext(ctx, message.ID, id, string(message.Role), message.Content, formatTimestamp(message.CreatedAt)); err != nil {
			return coachErrors.NewStorageError("batch", fmt.Sprintf("failed to insert message: %v", err), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return coachErrors.NewStorageError("batch", fmt.Sprintf("failed to commit transaction: %v", err), err)
	}

	return nil
}

// SaveMessagesWithRetry saves messages with automatic retry on failure.
func (s *Store) SaveMessagesWithRetry(ctx context.Context, id string, messages []conversation.Message, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.AppendMessages(ctx, id, messages)
		if err == nil {
			return nil
		}
		lastErr = err

		// Validation failures and missing conversations will not heal.
		var validationErr *coachErrors.ValidationError
		if coachErrors.As(err, &validationErr) || coachErrors.Is(err, coachErrors.ErrConversationNotFound) {
			return err
		}

		if attempt < maxRetries-1 {
			select {
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return coachErrors.NewStorageError("batch", fmt.Sprintf("failed after %d retries: %v", maxRetries, lastErr), lastErr)
}

// SaveInsights stores the insights panel. nil clears it.
func (s *Store) SaveInsights(ctx context.Context, id string, insights *conversation.Insights) error {
	if err := s.ready(); err != nil {
		return err
	}

	var payload sql.NullString
	if insights != nil {
		data, err := json.Marshal(insights)
		if err != nil {
			return coachErrors.NewStorageError("insights", fmt.Sprintf("encode insights: %v", err), err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	stmt, err := s.getPreparedStmt("saveInsights")
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, payload, formatTimestamp(s.now()), id)
	if err != nil {
		return coachErrors.NewStorageError("insights", fmt.Sprintf("update insights: %v", err), err)
	}
	return requireRow(res, id)
}

// ListConversations returns stored conversations ordered by most recent
// activity. A limit of zero or less returns all of them.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]conversation.Summary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // sqlite treats a negative LIMIT as unbounded
	}

	stmt, err := s.getPreparedStmt("listConversations")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, coachErrors.NewStorageError("list", fmt.Sprintf("list conversations: %v", err), err)
	}
	defer rows.Close()

	summaries := make([]conversation.Summary, 0, 8)
	for rows.Next() {
		var summary conversation.Summary
		var created, updated string
		if err := rows.Scan(&summary.ID, &summary.Title, &created, &updated, &summary.MessageCount); err != nil {
			return nil, coachErrors.NewStorageError("list", fmt.Sprintf("scan conversation summary: %v", err), err)
		}
		if summary.CreatedAt, err = parseTimestamp(created); err != nil {
			return nil, err
		}
		if summary.UpdatedAt, err = parseTimestamp(updated); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, coachErrors.NewStorageError("list", fmt.Sprintf("iterate conversation summaries: %v", err), err)
	}

	return summaries, nil
}

// LoadConversation fetches a conversation with every message.
func (s *Store) LoadConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, err := s.loadHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	stmt, err := s.getPreparedStmt("getMessages")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, id)
	if err != nil {
		return nil, coachErrors.NewStorageError("load", fmt.Sprintf("load messages: %v", err), err)
	}
	defer rows.Close()

	conv.Messages, err = scanMessages(rows, 0)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// LoadConversationWithPagination fetches the conversation with one page of
// messages. Page 1 holds the newest messages; each page is returned in
// chronological order.
func (s *Store) LoadConversationWithPagination(ctx context.Context, id string, pagination *PaginationOptions) (*Transcript, error) {
	conv, err := s.loadHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	page, pageSize := 1, defaultPageSize
	if pagination != nil {
		if pagination.PageSize > 0 {
			pageSize = pagination.PageSize
		}
		if pagination.Page > 0 {
			page = pagination.Page
		}
	}

	countStmt, err := s.getPreparedStmt("getMessageCount")
	if err != nil {
		return nil, err
	}
	var total int
	if err := countStmt.QueryRowContext(ctx, id).Scan(&total); err != nil {
		return nil, coachErrors.NewStorageError("load", fmt.Sprintf("get message count: %v", err), err)
	}

	paginatedStmt, err := s.getPreparedStmt("getMessagesPaginated")
	if err != nil {
		return nil, err
	}
	rows, err := paginatedStmt.QueryContext(ctx, id, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, coachErrors.NewStorageError("load", fmt.Sprintf("load messages paginated: %v", err), err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows, pageSize)
	if err != nil {
		return nil, err
	}

	// Reverse messages to show chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	conv.Messages = messages

	return &Transcript{Conversation: conv, TotalMessages: total, Page: page, PageSize: pageSize}, nil
}

// ResetConversation removes every message and the insights, and restores
// the default title. The identifier is kept.
func (s *Store) ResetConversation(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coachErrors.NewStorageError("reset", fmt.Sprintf("failed to begin transaction: %v", err), err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET title = ?, insights = NULL, updated_at = ? WHERE id = ?",
		conversation.DefaultTitle, formatTimestamp(s.now()), id)
	if err != nil {
		return coachErrors.NewStorageError("reset", fmt.Sprintf("reset conversation: %v", err), err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return coachErrors.NewStorageError("reset", fmt.Sprintf("delete messages: %v", err), err)
	}

	if err := tx.Commit(); err != nil {
		return coachErrors.NewStorageError("reset", fmt.Sprintf("failed to commit transaction: %v", err), err)
	}
	return nil
}

// DeleteConversation removes the conversation and, by cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	stmt, err := s.getPreparedStmt("deleteConversation")
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return coachErrors.NewStorageError("delete", fmt.Sprintf("delete conversation: %v", err), err)
	}
	return requireRow(res, id)
}

func (s *Store) loadHeader(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	stmt, err := s.getPreparedStmt("getConversation")
	if err != nil {
		return nil, err
	}

	var conv conversation.Conversation
	var insights sql.NullString
	var created, updated string
	row := stmt.QueryRowContext(ctx, id)
	if err := row.Scan(&conv.ID, &conv.Title, &insights, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, coachErrors.NewStorageError("load", fmt.Sprintf("select conversation: %v", err), err)
	}

	if conv.CreatedAt, err = parseTimestamp(created); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, err
	}
	if insights.Valid && insights.String != "" {
		var decoded conversation.Insights
		if err := json.Unmarshal([]byte(insights.String), &decoded); err != nil {
			return nil, coachErrors.NewStorageError("load", fmt.Sprintf("decode insights: %v", err), err)
		}
		conv.Insights = &decoded
	}
	conv.Messages = []conversation.Message{}

	return &conv, nil
}

func scanMessages(rows *sql.Rows, capacity int) ([]conversation.Message, error) {
	messages := make([]conversation.Message, 0, capacity)
	for rows.Next() {
		var msg conversation.Message
		var role, createdAt string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &createdAt); err != nil {
			return nil, coachErrors.NewStorageError("load", fmt.Sprintf("scan message: %v", err), err)
		}
		msg.Role = conversation.Role(role)
		var err error
		if msg.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, coachErrors.NewStorageError("load", fmt.Sprintf("iterate messages: %v", err), err)
	}
	return messages, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return coachErrors.NewStorageError("exec", fmt.Sprintf("rows affected: %v", err), err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, defaultDirName, defaultFileName)
	}

	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}

	return absPath, nil
}

// DefaultPath returns the database location used when none is configured.
func DefaultPath() string {
	p, err := resolvePath("")
	if err != nil {
		return filepath.Join("~", defaultDirName, defaultFileName)
	}
	return p
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, coachErrors.NewStorageError("parse", fmt.Sprintf("parse timestamp %q: %v", value, err), err)
	}
	return t, nil
}

func titleOrDefault(title string) string {
	if t := validation.SanitizeTitle(title); t != "" {
		return t
	}
	return conversation.DefaultTitle
}

// validateMessage checks a message before it is written.
func validateMessage(m conversation.Message) error {
	if strings.TrimSpace(m.ID) == "" {
		return coachErrors.NewValidationError("message.id", "cannot be empty", nil, nil)
	}
	if err := validation.ValidateRole(m.Role); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" {
		return coachErrors.NewValidationError("message.content", "cannot be empty", nil, nil)
	}
	if len(m.Content) > maxMessageLength {
		return coachErrors.NewValidationError("message.content", fmt.Sprintf("too long (max %d bytes)", maxMessageLength), nil, nil)
	}
	for _, char := range m.Content {
		if char < 32 && char != '\n' && char != '\r' && char != '\t' {
			return coachErrors.NewValidationError("message.content", "contains invalid control characters", nil, nil)
		}
	}
	return nil
}
