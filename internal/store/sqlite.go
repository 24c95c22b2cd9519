package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates the conversation database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			first_name TEXT,
			last_name TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			last_activity TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('user','model')),
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(chat_id) REFERENCES chats(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages(chat_id, created_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// newMessageID returns a ULID. ULIDs carry their creation time in the
// prefix, so they sort in creation order and break ties between
// messages written within the same timestamp.
func (s *SQLiteStore) newMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// User Implementation

func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash, firstName, lastName string) (*User, error) {
	user := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    time.Now().UTC(),
	}

	query := `INSERT INTO users (id, email, password_hash, first_name, last_name, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, formatTime(user.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, password_hash, first_name, last_name, created_at FROM users WHERE email = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) UserByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, password_hash, first_name, last_name, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAt string
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = parseTime(createdAt)
	return &user, nil
}

// Chat Implementation

func (s *SQLiteStore) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	now := time.Now().UTC()
	chat := &Chat{
		ID:           uuid.New().String(),
		UserID:       userID,
		Title:        title,
		LastActivity: now,
		CreatedAt:    now,
	}

	query := `INSERT INTO chats (id, user_id, title, last_activity, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, chat.ID, chat.UserID, chat.Title, formatTime(now), formatTime(now)); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLiteStore) ChatByID(ctx context.Context, id string) (*Chat, error) {
	query := `SELECT id, user_id, title, last_activity, created_at FROM chats WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var chat Chat
	var lastActivity, createdAt string
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &lastActivity, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	chat.LastActivity = parseTime(lastActivity)
	chat.CreatedAt = parseTime(createdAt)
	return &chat, nil
}

func (s *SQLiteStore) ChatsByUser(ctx context.Context, userID string) ([]*Chat, error) {
	query := `SELECT id, user_id, title, last_activity, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var chat Chat
		var lastActivity, createdAt string
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &lastActivity, &createdAt); err != nil {
			return nil, err
		}
		chat.LastActivity = parseTime(lastActivity)
		chat.CreatedAt = parseTime(createdAt)
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) TouchChat(ctx context.Context, id string) error {
	query := `UPDATE chats SET last_activity = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, formatTime(time.Now().UTC()), id)
	return err
}

// Message Implementation

func (s *SQLiteStore) CreateMessage(ctx context.Context, chatID, userID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleModel {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	msg := &Message{
		ID:        s.newMessageID(),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO messages (id, chat_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ChatID, msg.UserID, msg.Role, msg.Content, formatTime(msg.CreatedAt)); err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentMessages returns up to limit messages for the chat, newest
// first. The ULID id breaks ties between messages sharing a timestamp.
func (s *SQLiteStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]*Message, error) {
	query := `SELECT id, chat_id, user_id, role, content, created_at FROM messages
		WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryMessages(ctx, query, chatID, limit)
}

// MessagesByChat returns the full history in chronological order.
func (s *SQLiteStore) MessagesByChat(ctx context.Context, chatID string) ([]*Message, error) {
	query := `SELECT id, chat_id, user_id, role, content, created_at FROM messages
		WHERE chat_id = ? ORDER BY created_at ASC, id ASC`
	return s.queryMessages(ctx, query, chatID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// timeLayout is fixed-width: every timestamp renders all nine
// fractional digits, so the TEXT column's byte order is creation
// order. RFC3339Nano would trim trailing zeros and make a shorter
// string compare as later than its own prefix.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
