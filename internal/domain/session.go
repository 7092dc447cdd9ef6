package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the authorization tier attached to a session at authentication.
// It is fixed for the lifetime of the connection.
type Role string

const (
	RoleReader     Role = "reader"
	RoleConsultant Role = "consultant"
	RoleAdmin      Role = "admin"
)

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleReader, RoleConsultant, RoleAdmin:
		return true
	}
	return false
}

// Identity is the decoded credential payload attached to a session.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

// Session is a live authenticated transport connection. Room membership is
// not part of the session; it is owned by the broadcast hub.
type Session struct {
	ID          uuid.UUID
	Identity    Identity
	ConnectedAt time.Time
}

// PresenceRecord is the derived online/offline view for a user, independent
// of any specific session.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}
