package repository

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qoshimcha/support-chat-go/internal/model"
)

// MemoryStore keeps sessions and messages in process memory. It implements
// the same contracts as the Postgres repositories and backs tests and
// single-process development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	messages map[string][]model.Message
	last     time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		messages: make(map[string][]model.Message),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Timestamps stay strictly increasing
// even if the clock stalls.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Sessions() SessionRepository {
	return &memorySessionRepo{store: s}
}

func (s *MemoryStore) Messages() MessageRepository {
	return &memoryMessageRepo{store: s}
}

// tick must be called with mu held for writing.
func (s *MemoryStore) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

type memorySessionRepo struct {
	store *MemoryStore
}

func (r *memorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	session, ok := r.store.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (r *memorySessionRepo) FindByCredentialHash(ctx context.Context, credentialHash string) (*model.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, session := range r.store.sessions {
		if session.CredentialHash == credentialHash {
			copied := *session
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memorySessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.sessions {
		if existing.CredentialHash == params.CredentialHash {
			return nil, errDuplicateCredential
		}
	}

	now := r.store.tick()
	session := &model.Session{
		ID:             uuid.NewString(),
		CredentialHash: params.CredentialHash,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.store.sessions[session.ID] = session

	copied := *session
	return &copied, nil
}

func (r *memorySessionRepo) ListByUpdatedAt(ctx context.Context) iter.Seq2[model.Session, error] {
	return func(yield func(model.Session, error) bool) {
		r.store.mu.RLock()
		sessions := make([]model.Session, 0, len(r.store.sessions))
		for _, session := range r.store.sessions {
			sessions = append(sessions, *session)
		}
		r.store.mu.RUnlock()

		sort.Slice(sessions, func(i, j int) bool {
			if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
				return sessions[i].ID < sessions[j].ID
			}
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		})

		for _, session := range sessions {
			if err := ctx.Err(); err != nil {
				yield(model.Session{}, err)
				return
			}
			if !yield(session, nil) {
				return
			}
		}
	}
}

func (r *memorySessionRepo) Touch(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if session, ok := r.store.sessions[id]; ok {
		session.UpdatedAt = r.store.tick()
	}
	return nil
}

func (r *memorySessionRepo) Deactivate(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if session, ok := r.store.sessions[id]; ok {
		session.IsActive = false
	}
	return nil
}

func (r *memorySessionRepo) DeactivateIdle(ctx context.Context, idleSince time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var count int64
	for _, session := range r.store.sessions {
		if session.IsActive && session.UpdatedAt.Before(idleSince) {
			session.IsActive = false
			count++
		}
	}
	return count, nil
}

type memoryMessageRepo struct {
	store *MemoryStore
}

func (r *memoryMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.sessions[params.SessionID]; !ok {
		return nil, errUnknownSession
	}

	msg := model.Message{
		ID:         uuid.NewString(),
		SessionID:  params.SessionID,
		Content:    params.Content,
		SenderType: params.SenderType,
		StaffID:    params.StaffID,
		IsRead:     params.SenderType == model.SenderStaff,
		CreatedAt:  r.store.tick(),
	}
	r.store.messages[params.SessionID] = append(r.store.messages[params.SessionID], msg)
	return &msg, nil
}

func (r *memoryMessageRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msgs := make([]model.Message, len(r.store.messages[sessionID]))
	copy(msgs, r.store.messages[sessionID])
	return msgs, nil
}

func (r *memoryMessageRepo) CountUnread(ctx context.Context, sessionID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, msg := range r.store.messages[sessionID] {
		if msg.SenderType == model.SenderVisitor && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *memoryMessageRepo) LatestContent(ctx context.Context, sessionID string) (string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msgs := r.store.messages[sessionID]
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[len(msgs)-1].Content, nil
}

func (r *memoryMessageRepo) MarkRead(ctx context.Context, sessionID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var count int64
	msgs := r.store.messages[sessionID]
	for i := range msgs {
		if msgs[i].SenderType == model.SenderVisitor && !msgs[i].IsRead {
			msgs[i].IsRead = true
			count++
		}
	}
	return count, nil
}
