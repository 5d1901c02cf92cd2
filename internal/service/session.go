package service

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/repository"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

const maxNameLength = 100

type SessionService struct {
	sessionRepo repository.SessionRepository
}

func NewSessionService(sessionRepo repository.SessionRepository) *SessionService {
	return &SessionService{sessionRepo: sessionRepo}
}

func (s *SessionService) Create(ctx context.Context, firstName, lastName string) (*model.CreateSessionResult, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)

	if firstName == "" {
		return nil, apperrors.MissingRequired("firstName")
	}
	if lastName == "" {
		return nil, apperrors.MissingRequired("lastName")
	}
	if utf8.RuneCountInString(firstName) > maxNameLength || utf8.RuneCountInString(lastName) > maxNameLength {
		return nil, apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}

	credential, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}

	session, err := s.sessionRepo.Create(ctx, model.CreateSessionParams{
		CredentialHash: util.HashToken(credential),
		FirstName:      firstName,
		LastName:       lastName,
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create session: %w", err))
	}

	log.Info().
		Str("sessionId", session.ID).
		Msg("chat session created")

	return &model.CreateSessionResult{Session: session, Credential: credential}, nil
}

func (s *SessionService) GetByID(ctx context.Context, id string) (*model.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find session: %w", err))
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// Authenticate resolves a presented credential to the session it was issued
// for.
func (s *SessionService) Authenticate(ctx context.Context, credential string) (*model.Session, error) {
	if util.IsBlank(credential) {
		return nil, apperrors.Unauthorized("Session credential required")
	}

	session, err := s.sessionRepo.FindByCredentialHash(ctx, util.HashToken(credential))
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find session by credential: %w", err))
	}
	if session == nil {
		return nil, apperrors.InvalidToken("Invalid session credential")
	}
	return session, nil
}

// Sessions lists sessions by most recent activity. Each range re-queries.
func (s *SessionService) Sessions(ctx context.Context) iter.Seq2[model.Session, error] {
	return func(yield func(model.Session, error) bool) {
		for session, err := range s.sessionRepo.ListByUpdatedAt(ctx) {
			if err != nil {
				yield(model.Session{}, apperrors.Database(fmt.Errorf("list sessions: %w", err)))
				return
			}
			if !yield(session, nil) {
				return
			}
		}
	}
}

// ListSessions collects Sessions into a slice.
func (s *SessionService) ListSessions(ctx context.Context) ([]model.Session, error) {
	sessions := []model.Session{}
	for session, err := range s.Sessions(ctx) {
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *SessionService) Touch(ctx context.Context, id string) error {
	if err := s.sessionRepo.Touch(ctx, id); err != nil {
		return apperrors.Database(fmt.Errorf("touch session: %w", err))
	}
	return nil
}

func (s *SessionService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.sessionRepo.Deactivate(ctx, id); err != nil {
		return apperrors.Database(fmt.Errorf("deactivate session: %w", err))
	}

	log.Info().Str("sessionId", id).Msg("chat session deactivated")
	return nil
}

// ArchiveIdle deactivates active sessions without activity since idleSince.
func (s *SessionService) ArchiveIdle(ctx context.Context, idleSince time.Time) (int64, error) {
	count, err := s.sessionRepo.DeactivateIdle(ctx, idleSince)
	if err != nil {
		return 0, fmt.Errorf("archive idle sessions: %w", err)
	}
	return count, nil
}
