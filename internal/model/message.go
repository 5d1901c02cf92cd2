package model

import (
	"time"
)

type Message struct {
	ID         string     `db:"id" json:"id"`
	SessionID  string     `db:"session_id" json:"sessionId"`
	Content    string     `db:"content" json:"content"`
	SenderType SenderType `db:"sender_type" json:"senderType"`
	StaffID    *string    `db:"staff_id" json:"staffId,omitempty"`
	IsRead     bool       `db:"is_read" json:"isRead"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Before reports whether m sorts before other in ledger order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

type CreateMessageParams struct {
	SessionID  string
	Content    string
	SenderType SenderType
	StaffID    *string
}
