package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"cryptochat/internal/app/chat"
	"cryptochat/internal/app/db"
	"cryptochat/internal/app/user"
)

const userColumns = `id, address, public_key, ens_name, display_name, last_seen, created_at`

// Postgres is the PostgreSQL implementation of Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a migrated pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func scanPgUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Address, &u.PublicKey, &u.EnsName, &u.DisplayName, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByAddress implements user.Directory.
func (s *Postgres) FindByAddress(ctx context.Context, address string) (*user.User, error) {
	defer observe("user_find", time.Now())

	u, err := scanPgUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE address = $1`, address))
	if db.IsNoRows(err) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// Create implements user.Directory.
func (s *Postgres) Create(ctx context.Context, nu user.NewUser) (*user.User, error) {
	defer observe("user_create", time.Now())

	u, err := scanPgUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (address, public_key, ens_name, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		nu.Address, nu.PublicKey, nu.EnsName, nu.DisplayName))
	if db.IsUniqueViolation(err) {
		return nil, user.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Update implements user.Directory.
func (s *Postgres) Update(ctx context.Context, address string, upd user.Update) (*user.User, error) {
	defer observe("user_update", time.Now())

	u, err := scanPgUser(s.pool.QueryRow(ctx, `
		UPDATE users
		SET public_key = COALESCE($2, public_key),
		    last_seen  = COALESCE($3, last_seen)
		WHERE address = $1
		RETURNING `+userColumns,
		address, upd.PublicKey, upd.LastSeen))
	if db.IsNoRows(err) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// FindByID implements chat.Directory.
func (s *Postgres) FindByID(ctx context.Context, chatID int64) (*chat.Chat, error) {
	defer observe("chat_find", time.Now())

	var (
		c         chat.Chat
		createdBy pgtype.Int8
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_group, created_by, created_at FROM chats WHERE id = $1`, chatID).
		Scan(&c.ID, &c.Name, &c.IsGroup, &createdBy, &c.CreatedAt)
	if db.IsNoRows(err) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	c.CreatedBy = createdBy.Int64
	return &c, nil
}

// ListParticipants implements chat.Directory.
func (s *Postgres) ListParticipants(ctx context.Context, chatID int64) ([]chat.Participant, error) {
	defer observe("chat_participants", time.Now())

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, is_admin FROM chat_participants WHERE chat_id = $1 ORDER BY joined_at, user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	participants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Participant, error) {
		var p chat.Participant
		err := row.Scan(&p.UserID, &p.IsAdmin)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// Append implements chat.MessageStore.
func (s *Postgres) Append(ctx context.Context, p chat.AppendParams) (*chat.Message, error) {
	defer observe("message_append", time.Now())

	msg := chat.Message{
		ChatID:    p.ChatID,
		SenderID:  p.SenderID,
		Type:      p.Type,
		Content:   p.Content,
		Metadata:  p.Metadata,
		Encrypted: p.Encrypted,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (chat_id, sender_id, message_type, content, metadata, encrypted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		p.ChatID, p.SenderID, p.Type, p.Content, p.Metadata, p.Encrypted, nowIfZero(p.Timestamp)).
		Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

// List implements chat.MessageStore.
func (s *Postgres) List(ctx context.Context, chatID int64, limit, offset int) ([]chat.Message, error) {
	defer observe("message_list", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, message_type, content, metadata, encrypted, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var (
			m        chat.Message
			metadata []byte
		)
		err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Type, &m.Content, &metadata, &m.Encrypted, &m.Timestamp)
		if len(metadata) > 0 {
			m.Metadata = json.RawMessage(metadata)
		}
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// CreateChat inserts a chat.
func (s *Postgres) CreateChat(ctx context.Context, nc chat.NewChat) (*chat.Chat, error) {
	c := chat.Chat{Name: nc.Name, IsGroup: nc.IsGroup, CreatedBy: nc.CreatedBy}

	createdBy := pgtype.Int8{Int64: nc.CreatedBy, Valid: nc.CreatedBy > 0}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (name, is_group, created_by) VALUES ($1, $2, $3) RETURNING id, created_at`,
		nc.Name, nc.IsGroup, createdBy).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

// AddParticipant adds userID to a chat. Adding an existing participant is a no-op.
func (s *Postgres) AddParticipant(ctx context.Context, chatID, userID int64, isAdmin bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_participants (chat_id, user_id, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO NOTHING`,
		chatID, userID, isAdmin)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
