package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/audit"
	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/repository"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

type StaffVerifier interface {
	IsStaff(identity model.Identity) bool
}

type AppendParams struct {
	SessionID  string
	Content    string
	SenderType model.SenderType
}

// LedgerService appends and reads chat messages. Every call takes the caller
// identity from the context.
type LedgerService struct {
	messageRepo      repository.MessageRepository
	sessions         *SessionService
	staff            StaffVerifier
	publisher        Publisher
	maxMessageLength int
}

func NewLedgerService(
	messageRepo repository.MessageRepository,
	sessions *SessionService,
	staff StaffVerifier,
	publisher Publisher,
	maxMessageLength int,
) *LedgerService {
	return &LedgerService{
		messageRepo:      messageRepo,
		sessions:         sessions,
		staff:            staff,
		publisher:        publisher,
		maxMessageLength: maxMessageLength,
	}
}

func (s *LedgerService) Append(ctx context.Context, params AppendParams) (*model.Message, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, apperrors.MissingRequired("content")
	}
	if s.maxMessageLength > 0 && utf8.RuneCountInString(content) > s.maxMessageLength {
		return nil, apperrors.InvalidInput("content", fmt.Sprintf("must be at most %d characters", s.maxMessageLength))
	}
	if !params.SenderType.Valid() {
		return nil, apperrors.InvalidInput("senderType", "must be visitor or staff")
	}

	identity, _ := IdentityFromContext(ctx)
	var staffID *string
	switch params.SenderType {
	case model.SenderVisitor:
		if !s.ownsSession(identity, params.SessionID) {
			audit.Log(ctx, audit.Event{
				Type:      audit.EventCredentialMismatch,
				SessionID: identity.SessionID,
				Details:   map[string]interface{}{"targetSessionId": params.SessionID},
			})
			return nil, apperrors.Unauthorized("Credential does not match session")
		}
	case model.SenderStaff:
		if !s.staff.IsStaff(identity) {
			return nil, apperrors.Unauthorized("Staff identity required")
		}
		id := identity.StaffID
		staffID = &id
	}

	session, err := s.sessions.GetByID(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive && params.SenderType == model.SenderVisitor {
		return nil, apperrors.Forbidden("Session has ended")
	}

	msg, err := s.messageRepo.Create(ctx, model.CreateMessageParams{
		SessionID:  params.SessionID,
		Content:    content,
		SenderType: params.SenderType,
		StaffID:    staffID,
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create message: %w", err))
	}

	// The row is committed; later failures are logged, not returned, so a
	// client retry never duplicates it.
	if err := s.sessions.Touch(ctx, params.SessionID); err != nil {
		log.Error().Err(err).Str("sessionId", params.SessionID).Msg("failed to touch session")
	}
	if err := s.publisher.Publish(ctx, model.MessageInserted(*msg)); err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("failed to publish message")
	}

	log.Info().
		Str("messageId", msg.ID).
		Str("sessionId", msg.SessionID).
		Str("senderType", string(msg.SenderType)).
		Msg("chat message appended")

	return msg, nil
}

func (s *LedgerService) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	if err := s.authorizeRead(ctx, sessionID); err != nil {
		return nil, err
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	msgs, err := s.messageRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("list messages: %w", err))
	}
	return msgs, nil
}

func (s *LedgerService) CountUnread(ctx context.Context, sessionID string) (int, error) {
	if err := s.authorizeRead(ctx, sessionID); err != nil {
		return 0, err
	}
	count, err := s.messageRepo.CountUnread(ctx, sessionID)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("count unread: %w", err))
	}
	return count, nil
}

// LatestContent is empty when the session has no messages.
func (s *LedgerService) LatestContent(ctx context.Context, sessionID string) (string, error) {
	if err := s.authorizeRead(ctx, sessionID); err != nil {
		return "", err
	}
	content, err := s.messageRepo.LatestContent(ctx, sessionID)
	if err != nil {
		return "", apperrors.Database(fmt.Errorf("latest content: %w", err))
	}
	return content, nil
}

// MarkRead flips the visitor messages unread at call time. Staff only.
func (s *LedgerService) MarkRead(ctx context.Context, sessionID string) (int64, error) {
	identity, _ := IdentityFromContext(ctx)
	if !s.staff.IsStaff(identity) {
		return 0, apperrors.Unauthorized("Staff identity required")
	}

	count, err := s.messageRepo.MarkRead(ctx, sessionID)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("mark read: %w", err))
	}

	if count > 0 {
		log.Debug().
			Str("sessionId", sessionID).
			Int64("count", count).
			Str("staffId", identity.StaffID).
			Msg("messages marked as read")
	}
	return count, nil
}

func (s *LedgerService) ownsSession(identity model.Identity, sessionID string) bool {
	return identity.Kind == model.IdentityVisitor &&
		identity.SessionID != "" &&
		util.ConstantTimeEqual(identity.SessionID, sessionID)
}

func (s *LedgerService) authorizeRead(ctx context.Context, sessionID string) error {
	identity, _ := IdentityFromContext(ctx)
	if s.staff.IsStaff(identity) || s.ownsSession(identity, sessionID) {
		return nil
	}
	return apperrors.Unauthorized("Not allowed to read this session")
}
