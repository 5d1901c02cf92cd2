package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is the fan-out payload. Kind tags the variant; MessageInserted is
// currently the only one.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message *Message  `json:"message"`
}

func MessageInserted(msg Message) Event {
	return Event{Kind: EventMessageInserted, Message: &msg}
}

// SessionID returns the session the event is addressed to.
func (e Event) SessionID() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.SessionID
}

func (e Event) Validate() error {
	switch e.Kind {
	case EventMessageInserted:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	m := e.Message
	if m == nil {
		return fmt.Errorf("%s event has no message", e.Kind)
	}
	if m.ID == "" {
		return fmt.Errorf("message id is empty")
	}
	if m.SessionID == "" {
		return fmt.Errorf("message %s has no session id", m.ID)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("message %s has empty content", m.ID)
	}
	if !m.SenderType.Valid() {
		return fmt.Errorf("message %s has invalid sender type %q", m.ID, m.SenderType)
	}
	if m.SenderType == SenderStaff && (m.StaffID == nil || *m.StaffID == "") {
		return fmt.Errorf("staff message %s has no staff id", m.ID)
	}
	return nil
}

// DecodeEvent parses and validates a payload received from the broker.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return event, nil
}
