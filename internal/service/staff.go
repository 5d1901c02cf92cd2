package service

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/qoshimcha/support-chat-go/internal/errors"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/util"
)

// StaffDirectory verifies staff bearer tokens of the form "<staffID>.<secret>"
// against bcrypt hashes from configuration.
type StaffDirectory struct {
	hashes map[string]string

	mu       sync.RWMutex
	verified map[string]string // sha256(token) -> staffID
}

func NewStaffDirectory(hashes map[string]string) *StaffDirectory {
	copied := make(map[string]string, len(hashes))
	for staffID, hash := range hashes {
		copied[staffID] = hash
	}
	return &StaffDirectory{
		hashes:   copied,
		verified: make(map[string]string),
	}
}

func (d *StaffDirectory) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	if util.IsBlank(token) {
		return model.Identity{}, apperrors.Unauthorized("Staff token required")
	}

	tokenHash := util.HashToken(token)
	d.mu.RLock()
	staffID, ok := d.verified[tokenHash]
	d.mu.RUnlock()
	if ok {
		return model.StaffIdentity(staffID), nil
	}

	staffID, secret, found := strings.Cut(token, ".")
	if !found || staffID == "" || secret == "" {
		return model.Identity{}, apperrors.InvalidToken("Malformed staff token")
	}

	hash, ok := d.hashes[staffID]
	if !ok || !util.CheckSecretHash(secret, hash) {
		log.Debug().Str("staffId", staffID).Msg("staff token rejected")
		return model.Identity{}, apperrors.InvalidToken("Invalid staff token")
	}

	d.mu.Lock()
	d.verified[tokenHash] = staffID
	d.mu.Unlock()

	return model.StaffIdentity(staffID), nil
}

// IsStaff reports whether identity names a staff member known to the directory.
func (d *StaffDirectory) IsStaff(identity model.Identity) bool {
	if !identity.IsStaff() {
		return false
	}
	_, ok := d.hashes[identity.StaffID]
	return ok
}
