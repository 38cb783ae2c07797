/*
Package chat defines chats, their participants and persisted messages, together with
the directory and message store interfaces the relay routes through.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a chat id is unknown.
var ErrNotFound = errors.New("chat not found")

// Content types a message may carry.
const (
	TypeText        = "text"
	TypeFile        = "file"
	TypeTransaction = "transaction"
)

// ValidType reports whether t is a supported content type.
func ValidType(t string) bool {
	switch t {
	case TypeText, TypeFile, TypeTransaction:
		return true
	}
	return false
}

// Chat is a conversation between participants. A non-group chat with two participants
// is a direct chat.
type Chat struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsGroup   bool      `json:"isGroup"`
	CreatedBy int64     `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChat is the input for creating a chat.
type NewChat struct {
	Name      string
	IsGroup   bool
	CreatedBy int64
}

// Participant references a user's membership in a chat.
type Participant struct {
	UserID  int64 `json:"userId"`
	IsAdmin bool  `json:"isAdmin"`
}

// Message is a persisted chat message. ID and Timestamp are assigned by the store.
type Message struct {
	ID        int64           `json:"id"`
	ChatID    int64           `json:"chatId"`
	SenderID  int64           `json:"senderId"`
	Type      string          `json:"messageType"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Encrypted bool            `json:"encrypted"`
	Timestamp time.Time       `json:"timestamp"`
}

// AppendParams is the input of MessageStore.Append.
type AppendParams struct {
	ChatID    int64
	SenderID  int64
	Type      string
	Content   string
	Metadata  json.RawMessage
	Encrypted bool
	Timestamp time.Time
}

// Directory resolves chats and their participants.
type Directory interface {
	// FindByID returns ErrNotFound for unknown chats.
	FindByID(ctx context.Context, chatID int64) (*Chat, error)
	ListParticipants(ctx context.Context, chatID int64) ([]Participant, error)
}

// MessageStore persists messages and serves history.
type MessageStore interface {
	// Append stores the message and returns it with the authoritative id and timestamp.
	Append(ctx context.Context, p AppendParams) (*Message, error)

	// List returns messages of a chat newest first.
	List(ctx context.Context, chatID int64, limit, offset int) ([]Message, error)
}

// IsParticipant reports whether userID appears in participants.
func IsParticipant(participants []Participant, userID int64) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
