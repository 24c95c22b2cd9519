package store

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// User is a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}

// Chat is a named grouping of messages belonging to one user.
type Chat struct {
	ID           string
	UserID       string
	Title        string
	LastActivity time.Time
	CreatedAt    time.Time
}

// Message is one immutable turn of a conversation. Messages are never
// updated or deleted once created.
type Message struct {
	ID        string
	ChatID    string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Storage defines the interface for conversation persistence.
type Storage interface {
	// User management
	CreateUser(ctx context.Context, email, passwordHash, firstName, lastName string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)

	// Chat management
	CreateChat(ctx context.Context, userID, title string) (*Chat, error)
	ChatByID(ctx context.Context, id string) (*Chat, error)
	ChatsByUser(ctx context.Context, userID string) ([]*Chat, error)
	TouchChat(ctx context.Context, id string) error

	// Message management. CreateMessage assigns the ID and timestamp;
	// RecentMessages returns newest-first.
	CreateMessage(ctx context.Context, chatID, userID, role, content string) (*Message, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
	MessagesByChat(ctx context.Context, chatID string) ([]*Message, error)

	// Configuration management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}
