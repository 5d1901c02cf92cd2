// Package keystore persists small client-side values, such as the visitor
// session credential, across restarts.
package keystore

import (
	"context"
	"sync"
)

const (
	KeySessionID  = "support_chat.session_id"
	KeyCredential = "support_chat.credential"
)

// Store is a flat string key-value store with no expiry.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Credential is the pair a visitor needs to resume a conversation.
type Credential struct {
	SessionID  string
	Credential string
}

// LoadCredential returns ok=false unless both halves are present.
func LoadCredential(ctx context.Context, store Store) (Credential, bool, error) {
	sessionID, ok, err := store.Get(ctx, KeySessionID)
	if err != nil || !ok {
		return Credential{}, false, err
	}
	credential, ok, err := store.Get(ctx, KeyCredential)
	if err != nil || !ok {
		return Credential{}, false, err
	}
	return Credential{SessionID: sessionID, Credential: credential}, true, nil
}

func SaveCredential(ctx context.Context, store Store, cred Credential) error {
	if err := store.Set(ctx, KeySessionID, cred.SessionID); err != nil {
		return err
	}
	return store.Set(ctx, KeyCredential, cred.Credential)
}

func ClearCredential(ctx context.Context, store Store) error {
	if err := store.Delete(ctx, KeyCredential); err != nil {
		return err
	}
	return store.Delete(ctx, KeySessionID)
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
