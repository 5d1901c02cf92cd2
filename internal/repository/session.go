package repository

import (
	"context"
	"iter"
	"time"

	"github.com/qoshimcha/support-chat-go/internal/database"
	"github.com/qoshimcha/support-chat-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindByCredentialHash(ctx context.Context, credentialHash string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	// ListByUpdatedAt yields sessions newest activity first. The query runs
	// when the sequence is ranged and again on every range.
	ListByUpdatedAt(ctx context.Context) iter.Seq2[model.Session, error]
	Touch(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	DeactivateIdle(ctx context.Context, idleSince time.Time) (int64, error)
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM chat_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByCredentialHash(ctx context.Context, credentialHash string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM chat_sessions WHERE credential_hash = $1
	`, credentialHash)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO chat_sessions (credential_hash, first_name, last_name)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.CredentialHash, params.FirstName, params.LastName)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListByUpdatedAt(ctx context.Context) iter.Seq2[model.Session, error] {
	return func(yield func(model.Session, error) bool) {
		rows, err := r.db.QueryxContext(ctx, `
			SELECT * FROM chat_sessions
			ORDER BY updated_at DESC, id ASC
		`)
		if err != nil {
			yield(model.Session{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var session model.Session
			if err := rows.StructScan(&session); err != nil {
				yield(model.Session{}, err)
				return
			}
			if !yield(session, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Session{}, err)
		}
	}
}

func (r *sessionRepo) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET updated_at = clock_timestamp() WHERE id = $1
	`, id)
	return err
}

func (r *sessionRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET is_active = FALSE WHERE id = $1 AND is_active
	`, id)
	return err
}

func (r *sessionRepo) DeactivateIdle(ctx context.Context, idleSince time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET is_active = FALSE
		WHERE is_active AND updated_at < $1
	`, idleSince)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
