package model

import (
	"time"
)

type Session struct {
	ID             string    `db:"id" json:"id"`
	CredentialHash string    `db:"credential_hash" json:"-"`
	FirstName      string    `db:"first_name" json:"firstName"`
	LastName       string    `db:"last_name" json:"lastName"`
	IsActive       bool      `db:"is_active" json:"isActive"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateSessionParams struct {
	CredentialHash string
	FirstName      string
	LastName       string
}

// CreateSessionResult carries the credential beside the session. This is the
// only place the plaintext credential ever leaves the server.
type CreateSessionResult struct {
	Session    *Session `json:"session"`
	Credential string   `json:"credential"`
}

// SessionSummary is one row of the staff session list.
type SessionSummary struct {
	Session
	UnreadCount int    `json:"unreadCount"`
	LastMessage string `json:"lastMessage"`
}
