// Package transcript keeps the client-side view of one conversation:
// confirmed messages in ledger order, followed by sends that are still
// pending or have failed.
package transcript

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qoshimcha/support-chat-go/internal/model"
)

type State string

const (
	StateConfirmed State = "confirmed"
	StatePending   State = "pending"
	StateFailed    State = "failed"
)

// Entry is one line of the transcript. LocalID is set for entries that
// started as a local send.
type Entry struct {
	LocalID string
	State   State
	Message model.Message
	Err     error
}

type Transcript struct {
	confirmed   []model.Message
	seen        map[string]bool
	unconfirmed []Entry
}

func New() *Transcript {
	return &Transcript{seen: make(map[string]bool)}
}

// Reset replaces all confirmed messages and drops unconfirmed entries.
func (t *Transcript) Reset(msgs []model.Message) {
	t.confirmed = nil
	t.seen = make(map[string]bool, len(msgs))
	t.unconfirmed = nil
	for _, msg := range msgs {
		t.Add(msg)
	}
}

// Add inserts a confirmed message in ledger order. It reports false when
// the message id is already present. A pending entry with the same session,
// sender and content is taken to be this message and dropped.
func (t *Transcript) Add(msg model.Message) bool {
	if t.seen[msg.ID] {
		return false
	}
	t.seen[msg.ID] = true

	i := len(t.confirmed)
	for i > 0 && msg.Before(&t.confirmed[i-1]) {
		i--
	}
	t.confirmed = slices.Insert(t.confirmed, i, msg)

	if j := slices.IndexFunc(t.unconfirmed, func(e Entry) bool {
		return e.State == StatePending &&
			e.Message.SessionID == msg.SessionID &&
			e.Message.SenderType == msg.SenderType &&
			e.Message.Content == msg.Content
	}); j >= 0 {
		t.unconfirmed = slices.Delete(t.unconfirmed, j, j+1)
	}
	return true
}

// AddPending records a local send and returns its local id.
func (t *Transcript) AddPending(sessionID, content string, sender model.SenderType) string {
	localID := "local-" + uuid.NewString()
	t.unconfirmed = append(t.unconfirmed, Entry{
		LocalID: localID,
		State:   StatePending,
		Message: model.Message{
			SessionID:  sessionID,
			Content:    strings.TrimSpace(content),
			SenderType: sender,
			CreatedAt:  time.Now().UTC(),
		},
	})
	return localID
}

// Confirm swaps the pending entry for the stored message. If the fan-out
// echo already delivered it, there is nothing left to swap.
func (t *Transcript) Confirm(localID string, msg model.Message) {
	t.removeUnconfirmed(localID)
	t.Add(msg)
}

func (t *Transcript) Fail(localID string, err error) {
	if i := t.indexOf(localID); i >= 0 {
		t.unconfirmed[i].State = StateFailed
		t.unconfirmed[i].Err = err
	}
}

// Retry moves a failed entry back to pending and returns its content.
func (t *Transcript) Retry(localID string) (string, bool) {
	i := t.indexOf(localID)
	if i < 0 || t.unconfirmed[i].State != StateFailed {
		return "", false
	}
	t.unconfirmed[i].State = StatePending
	t.unconfirmed[i].Err = nil
	return t.unconfirmed[i].Message.Content, true
}

func (t *Transcript) Pending() bool {
	for _, entry := range t.unconfirmed {
		if entry.State == StatePending {
			return true
		}
	}
	return false
}

// Entries returns a snapshot safe for the caller to keep.
func (t *Transcript) Entries() []Entry {
	entries := make([]Entry, 0, len(t.confirmed)+len(t.unconfirmed))
	for _, msg := range t.confirmed {
		entries = append(entries, Entry{State: StateConfirmed, Message: msg})
	}
	return append(entries, t.unconfirmed...)
}

func (t *Transcript) Messages() []model.Message {
	return slices.Clone(t.confirmed)
}

func (t *Transcript) Len() int {
	return len(t.confirmed) + len(t.unconfirmed)
}

func (t *Transcript) indexOf(localID string) int {
	return slices.IndexFunc(t.unconfirmed, func(e Entry) bool { return e.LocalID == localID })
}

func (t *Transcript) removeUnconfirmed(localID string) {
	if i := t.indexOf(localID); i >= 0 {
		t.unconfirmed = slices.Delete(t.unconfirmed, i, i+1)
	}
}
