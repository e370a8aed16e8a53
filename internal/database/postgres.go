package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver

	"github.com/ammar1510/chatline/internal/models"
)

var ErrEmptyChatID = errors.New("chat id is required")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	message_id TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	friend_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	is_ai      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS messages_message_id_key ON messages (message_id);
CREATE INDEX IF NOT EXISTS messages_chat_id_created_at_idx ON messages (chat_id, created_at DESC);

CREATE TABLE IF NOT EXISTS friendships (
	user_id    TEXT NOT NULL,
	friend_id  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, friend_id)
);`

// upsertQuery inserts every row whose message_id is new and leaves
// existing rows untouched.
const upsertQuery = `
INSERT INTO messages (message_id, chat_id, user_id, friend_id, content, is_ai, created_at)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::boolean[], $7::timestamptz[])
ON CONFLICT (message_id) DO NOTHING`

const recentQuery = `
SELECT message_id, chat_id, user_id, friend_id, content, is_ai, created_at
FROM messages
WHERE chat_id = $1
ORDER BY created_at DESC, message_id DESC
LIMIT $2 OFFSET $3`

const friendshipQuery = `
SELECT EXISTS (
	SELECT 1 FROM friendships
	WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)
)`

type PostgresDB struct {
	*sql.DB
}

func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresDB{db}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpsertMessages writes msgs in one unordered bulk statement keyed by
// message_id. It returns how many rows were actually inserted; rows that
// already existed are skipped, never overwritten.
func (db *PostgresDB) UpsertMessages(ctx context.Context, msgs []*models.Message) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	n := len(msgs)
	var (
		ids     = make([]string, 0, n)
		chats   = make([]string, 0, n)
		users   = make([]string, 0, n)
		friends = make([]string, 0, n)
		bodies  = make([]string, 0, n)
		ai      = make([]bool, 0, n)
		times   = make([]string, 0, n)
	)
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
		chats = append(chats, m.ChatID)
		users = append(users, m.UserID)
		friends = append(friends, m.FriendID)
		bodies = append(bodies, m.Content)
		ai = append(ai, m.IsAI)
		times = append(times, m.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	result, err := db.ExecContext(ctx, upsertQuery,
		pq.Array(ids), pq.Array(chats), pq.Array(users), pq.Array(friends),
		pq.Array(bodies), pq.Array(ai), pq.Array(times),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %d messages: %w", n, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RecentByChat returns up to limit messages of a conversation, most recent
// first, skipping the offset newest ones.
func (db *PostgresDB) RecentByChat(ctx context.Context, chatID string, limit, offset int) ([]*models.Message, error) {
	if chatID == "" {
		return nil, ErrEmptyChatID
	}

	rows, err := db.QueryContext(ctx, recentQuery, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := models.Message{Version: models.SchemaVersion}

		err := rows.Scan(&msg.MessageID, &msg.ChatID, &msg.UserID, &msg.FriendID, &msg.Content, &msg.IsAI, &msg.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()

		messages = append(messages, &msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// MutualFriendship reports whether either user has the other as a friend.
func (db *PostgresDB) MutualFriendship(ctx context.Context, userID, friendID string) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, friendshipQuery, userID, friendID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return exists, nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
