package model

// Identity is the proven caller of a request. Visitors are bound to exactly
// one session; staff carry the id issued by the staff directory.
type Identity struct {
	Kind      IdentityKind
	SessionID string
	StaffID   string
}

func VisitorIdentity(sessionID string) Identity {
	return Identity{Kind: IdentityVisitor, SessionID: sessionID}
}

func StaffIdentity(staffID string) Identity {
	return Identity{Kind: IdentityStaff, StaffID: staffID}
}

func (i Identity) IsStaff() bool {
	return i.Kind == IdentityStaff && i.StaffID != ""
}

func (i Identity) OwnsSession(sessionID string) bool {
	return i.Kind == IdentityVisitor && i.SessionID != "" && i.SessionID == sessionID
}
