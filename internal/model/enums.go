package model

type SenderType string

const (
	SenderVisitor SenderType = "visitor"
	SenderStaff   SenderType = "staff"
)

func (s SenderType) Valid() bool {
	return s == SenderVisitor || s == SenderStaff
}

type IdentityKind string

const (
	IdentityVisitor IdentityKind = "visitor"
	IdentityStaff   IdentityKind = "staff"
)

type SubscriptionScope string

const (
	ScopeSession SubscriptionScope = "session"
	ScopeAll     SubscriptionScope = "all"
)

type EventKind string

const (
	EventMessageInserted EventKind = "message_inserted"
)
