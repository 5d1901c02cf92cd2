package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

type repositories struct {
	sessions SessionRepository
	messages MessageRepository
}

func createSession(t *testing.T, repos repositories, first, last string) *model.Session {
	t.Helper()
	token, err := util.GenerateToken()
	require.NoError(t, err)

	session, err := repos.sessions.Create(context.Background(), model.CreateSessionParams{
		CredentialHash: util.HashToken(token),
		FirstName:      first,
		LastName:       last,
	})
	require.NoError(t, err)
	return session
}

func appendMessage(t *testing.T, repos repositories, sessionID, content string, sender model.SenderType) *model.Message {
	t.Helper()
	params := model.CreateMessageParams{SessionID: sessionID, Content: content, SenderType: sender}
	if sender == model.SenderStaff {
		staffID := "staff-1"
		params.StaffID = &staffID
	}
	msg, err := repos.messages.Create(context.Background(), params)
	require.NoError(t, err)
	return msg
}

func collect(t *testing.T, repo SessionRepository) []model.Session {
	t.Helper()
	var sessions []model.Session
	for session, err := range repo.ListByUpdatedAt(context.Background()) {
		require.NoError(t, err)
		sessions = append(sessions, session)
	}
	return sessions
}

func runRepositoryContract(t *testing.T, newRepos func(t *testing.T) repositories) {
	ctx := context.Background()

	t.Run("creates active session", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		assert.NotEmpty(t, session.ID)
		assert.True(t, session.IsActive)
		assert.Equal(t, "Ali", session.FirstName)
		assert.Equal(t, session.CreatedAt, session.UpdatedAt)

		found, err := repos.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.CredentialHash, found.CredentialHash)

		byHash, err := repos.sessions.FindByCredentialHash(ctx, session.CredentialHash)
		require.NoError(t, err)
		assert.Equal(t, session.ID, byHash.ID)
	})

	t.Run("returns nil for unknown session", func(t *testing.T) {
		repos := newRepos(t)
		found, err := repos.sessions.FindByID(ctx, "00000000-0000-4000-8000-000000000000")
		require.NoError(t, err)
		assert.Nil(t, found)

		found, err = repos.sessions.FindByCredentialHash(ctx, util.HashToken("nope"))
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("rejects duplicate credential", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		_, err := repos.sessions.Create(ctx, model.CreateSessionParams{
			CredentialHash: session.CredentialHash,
			FirstName:      "Other",
			LastName:       "Visitor",
		})
		assert.Error(t, err)
	})

	t.Run("lists sessions by latest activity and re-queries on each range", func(t *testing.T) {
		repos := newRepos(t)
		older := createSession(t, repos, "Older", "Visitor")
		newer := createSession(t, repos, "Newer", "Visitor")

		first := collect(t, repos.sessions)
		require.GreaterOrEqual(t, len(first), 2)
		assert.Equal(t, newer.ID, first[0].ID)

		require.NoError(t, repos.sessions.Touch(ctx, older.ID))

		second := collect(t, repos.sessions)
		assert.Equal(t, older.ID, second[0].ID)
	})

	t.Run("touch refreshes updated_at", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		require.NoError(t, repos.sessions.Touch(ctx, session.ID))

		found, err := repos.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, found.UpdatedAt.After(session.UpdatedAt))
		assert.Equal(t, session.CreatedAt, found.CreatedAt)
	})

	t.Run("deactivate is idempotent", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		require.NoError(t, repos.sessions.Deactivate(ctx, session.ID))
		require.NoError(t, repos.sessions.Deactivate(ctx, session.ID))

		found, err := repos.sessions.FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, found.IsActive)
	})

	t.Run("deactivates idle sessions only", func(t *testing.T) {
		repos := newRepos(t)
		idle := createSession(t, repos, "Idle", "Visitor")
		cutoff := time.Now().Add(time.Hour)

		count, err := repos.sessions.DeactivateIdle(ctx, cutoff)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(1))

		found, err := repos.sessions.FindByID(ctx, idle.ID)
		require.NoError(t, err)
		assert.False(t, found.IsActive)

		count, err = repos.sessions.DeactivateIdle(ctx, cutoff)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("lists messages in append order", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		contents := []string{"one", "two", "three", "four", "five"}
		for i, content := range contents {
			sender := model.SenderVisitor
			if i%2 == 1 {
				sender = model.SenderStaff
			}
			appendMessage(t, repos, session.ID, content, sender)
		}

		msgs, err := repos.messages.ListBySession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i := range contents {
			assert.Equal(t, contents[i], msgs[i].Content)
			if i > 0 {
				assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
			}
		}
	})

	t.Run("empty session has no messages and no preview", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		msgs, err := repos.messages.ListBySession(ctx, session.ID)
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)

		latest, err := repos.messages.LatestContent(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "", latest)
	})

	t.Run("counts and marks unread visitor messages", func(t *testing.T) {
		repos := newRepos(t)
		session := createSession(t, repos, "Ali", "Valiyev")

		appendMessage(t, repos, session.ID, "Salom", model.SenderVisitor)
		staffMsg := appendMessage(t, repos, session.ID, "Assalomu alaykum!", model.SenderStaff)
		appendMessage(t, repos, session.ID, "Savolim bor", model.SenderVisitor)
		assert.True(t, staffMsg.IsRead)

		count, err := repos.messages.CountUnread(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		latest, err := repos.messages.LatestContent(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Savolim bor", latest)

		marked, err := repos.messages.MarkRead(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), marked)

		marked, err = repos.messages.MarkRead(ctx, session.ID)
		require.NoError(t, err)
		assert.Zero(t, marked)

		count, err = repos.messages.CountUnread(ctx, session.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		appendMessage(t, repos, session.ID, "Yana bir savol", model.SenderVisitor)
		count, err = repos.messages.CountUnread(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("rejects message for unknown session", func(t *testing.T) {
		repos := newRepos(t)
		_, err := repos.messages.Create(ctx, model.CreateMessageParams{
			SessionID:  "00000000-0000-4000-8000-000000000000",
			Content:    "hello",
			SenderType: model.SenderVisitor,
		})
		assert.Error(t, err)
	})
}
