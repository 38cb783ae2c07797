/*
Package store implements the user directory, the chat directory and the message store
on PostgreSQL (pgx) or SQLite, plus an optional Redis presence mirror.
*/
package store

import (
	"context"
	"time"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/user"
	"cryptochat/internal/pkg/metrics"
)

// Store is everything the relay and the HTTP handlers need from persistence.
type Store interface {
	user.Directory
	chat.Directory
	chat.MessageStore

	// CreateChat and AddParticipant seed chats; there is no chat management API.
	CreateChat(ctx context.Context, c chat.NewChat) (*chat.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID int64, isAdmin bool) error

	Ping(ctx context.Context) error
	Close() error
}

// observe records the latency of a store call.
func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
