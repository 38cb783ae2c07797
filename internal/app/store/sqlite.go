package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/db"
	"cryptochat/internal/app/user"
)

// SQLite is the embedded implementation of Store used when no DATABASE_URL is set.
// Timestamps are stored as unix milliseconds.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps a migrated database.
func NewSQLite(sqlDB *sql.DB) *SQLite {
	return &SQLite{db: sqlDB}
}

func scanLiteUser(row *sql.Row) (*user.User, error) {
	var (
		u                   user.User
		lastSeen, createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Address, &u.PublicKey, &u.EnsName, &u.DisplayName, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	u.LastSeen = time.UnixMilli(lastSeen)
	u.CreatedAt = time.UnixMilli(createdAt)
	return &u, nil
}

// FindByAddress implements user.Directory.
func (s *SQLite) FindByAddress(ctx context.Context, address string) (*user.User, error) {
	defer observe("user_find", time.Now())

	u, err := scanLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE address = ?`, address))
	if db.IsNoRows(err) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// Create implements user.Directory.
func (s *SQLite) Create(ctx context.Context, nu user.NewUser) (*user.User, error) {
	defer observe("user_create", time.Now())

	now := time.Now().UnixMilli()
	u, err := scanLiteUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (address, public_key, ens_name, display_name, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+userColumns,
		nu.Address, nu.PublicKey, nu.EnsName, nu.DisplayName, now, now))
	if db.IsUniqueViolation(err) {
		return nil, user.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Update implements user.Directory.
func (s *SQLite) Update(ctx context.Context, address string, upd user.Update) (*user.User, error) {
	defer observe("user_update", time.Now())

	var lastSeen sql.NullInt64
	if upd.LastSeen != nil {
		lastSeen = sql.NullInt64{Int64: upd.LastSeen.UnixMilli(), Valid: true}
	}
	var publicKey sql.NullString
	if upd.PublicKey != nil {
		publicKey = sql.NullString{String: *upd.PublicKey, Valid: true}
	}

	u, err := scanLiteUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET public_key = COALESCE(?, public_key),
		    last_seen  = COALESCE(?, last_seen)
		WHERE address = ?
		RETURNING `+userColumns,
		publicKey, lastSeen, address))
	if db.IsNoRows(err) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// FindByID implements chat.Directory.
func (s *SQLite) FindByID(ctx context.Context, chatID int64) (*chat.Chat, error) {
	defer observe("chat_find", time.Now())

	var (
		c         chat.Chat
		createdBy sql.NullInt64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_group, created_by, created_at FROM chats WHERE id = ?`, chatID).
		Scan(&c.ID, &c.Name, &c.IsGroup, &createdBy, &createdAt)
	if db.IsNoRows(err) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	c.CreatedBy = createdBy.Int64
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, nil
}

// ListParticipants implements chat.Directory.
func (s *SQLite) ListParticipants(ctx context.Context, chatID int64) ([]chat.Participant, error) {
	defer observe("chat_participants", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, is_admin FROM chat_participants WHERE chat_id = ? ORDER BY joined_at, user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []chat.Participant
	for rows.Next() {
		var p chat.Participant
		if err := rows.Scan(&p.UserID, &p.IsAdmin); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// Append implements chat.MessageStore.
func (s *SQLite) Append(ctx context.Context, p chat.AppendParams) (*chat.Message, error) {
	defer observe("message_append", time.Now())

	ts := nowIfZero(p.Timestamp)
	msg := chat.Message{
		ChatID:    p.ChatID,
		SenderID:  p.SenderID,
		Type:      p.Type,
		Content:   p.Content,
		Metadata:  p.Metadata,
		Encrypted: p.Encrypted,
		Timestamp: time.UnixMilli(ts.UnixMilli()),
	}

	var metadata sql.NullString
	if len(p.Metadata) > 0 {
		metadata = sql.NullString{String: string(p.Metadata), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, message_type, content, metadata, encrypted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		p.ChatID, p.SenderID, p.Type, p.Content, metadata, p.Encrypted, ts.UnixMilli()).
		Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

// List implements chat.MessageStore.
func (s *SQLite) List(ctx context.Context, chatID int64, limit, offset int) ([]chat.Message, error) {
	defer observe("message_list", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, message_type, content, metadata, encrypted, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, limit)
	for rows.Next() {
		var (
			m         chat.Message
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Type, &m.Content, &metadata, &m.Encrypted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metadata.Valid {
			m.Metadata = json.RawMessage(metadata.String)
		}
		m.Timestamp = time.UnixMilli(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// CreateChat inserts a chat.
func (s *SQLite) CreateChat(ctx context.Context, nc chat.NewChat) (*chat.Chat, error) {
	now := time.Now()
	c := chat.Chat{Name: nc.Name, IsGroup: nc.IsGroup, CreatedBy: nc.CreatedBy, CreatedAt: time.UnixMilli(now.UnixMilli())}

	var createdBy sql.NullInt64
	if nc.CreatedBy > 0 {
		createdBy = sql.NullInt64{Int64: nc.CreatedBy, Valid: true}
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chats (name, is_group, created_by, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		nc.Name, nc.IsGroup, createdBy, now.UnixMilli()).
		Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

// AddParticipant adds userID to a chat. Adding an existing participant is a no-op.
func (s *SQLite) AddParticipant(ctx context.Context, chatID, userID int64, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_participants (chat_id, user_id, is_admin, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id) DO NOTHING`,
		chatID, userID, isAdmin, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
