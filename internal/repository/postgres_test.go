package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qoshimcha/support-chat-go/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(databaseURL)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresRepositories(t *testing.T) {
	db := setupTestDB(t)

	runRepositoryContract(t, func(t *testing.T) repositories {
		_, err := db.ExecContext(context.Background(), `TRUNCATE chat_messages, chat_sessions`)
		require.NoError(t, err)
		return repositories{
			sessions: NewSessionRepository(db.DB),
			messages: NewMessageRepository(db.DB),
		}
	})
}
