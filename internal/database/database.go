package database

import (
	"context"
	"fmt"

	"github.com/ammar1510/chatline/internal/models"
)

// DBInterface is the persistent store used by the persister, the read path
// and the friend-graph check.
type DBInterface interface {
	// Message methods
	UpsertMessages(ctx context.Context, msgs []*models.Message) (int64, error)
	RecentByChat(ctx context.Context, chatID string, limit, offset int) ([]*models.Message, error)

	// Friend graph
	MutualFriendship(ctx context.Context, userID, friendID string) (bool, error)

	// Common methods
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type DatabaseType string

const PostgreSQL DatabaseType = "postgres"

func NewDatabase(dbType DatabaseType, connStr string) (DBInterface, error) {
	switch dbType {
	case PostgreSQL:
		return NewPostgresDB(connStr)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
