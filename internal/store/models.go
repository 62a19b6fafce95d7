package store

import "time"

// Group statuses. Transitions only ever leave active; expired and completed
// are terminal for membership.
const (
	GroupActive    = "active"
	GroupExpired   = "expired"
	GroupCompleted = "completed"
)

// Invitation types.
const (
	InviteManual = "manual"
	InviteLink   = "link"
)

// Notification types.
const (
	NotifyGroupExpired    = "group_expired"
	NotifyGroupInvitation = "group_invitation"
	NotifyGroupRemoved    = "group_removed"
)

type User struct {
	ID                string
	DisplayName       string
	Email             string
	PasswordHash      string
	Role              string
	IsEmailVerified   bool
	VerificationToken string
	CreatedAt         time.Time
}

// Group is the single source of truth for membership. Members and the
// per-member join timestamps live in dedicated Redis structures next to the
// document so concurrent writers never overwrite each other; they are folded
// back in on every read.
type Group struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	AdminID          string               `json:"admin_id"`
	Members          []string             `json:"members,omitempty"`
	MembersJoinedAt  map[string]time.Time `json:"members_joined_at,omitempty"`
	RequiredMembers  int                  `json:"required_members"`
	ThresholdPercent int                  `json:"threshold_percent"`
	Purpose          string               `json:"purpose"`
	Properties       []string             `json:"properties,omitempty"`
	ApartmentID      string               `json:"apartment_id,omitempty"`
	Status           string               `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
	ExpirationTime   time.Time            `json:"expiration_time"`
}

// IsActive reports whether membership mutations are still valid.
func (g Group) IsActive() bool {
	return g.Status == GroupActive
}

// HasMember reports whether userID is currently in the member set.
func (g Group) HasMember(userID string) bool {
	for _, id := range g.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Invitation documents use the deterministic id recipientID_groupID.
// Terminal invitations are deleted, never retained.
type Invitation struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	GroupName   string    `json:"group_name"`
	InviterID   string    `json:"inviter_id"`
	RecipientID string    `json:"recipient_id"`
	Status      string    `json:"status"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GroupID   string    `json:"group_id"`
	GroupName string    `json:"group_name"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// FormationSettings is the global settings document read at group creation.
// The threshold percent is frozen onto each group; later settings edits never
// change existing groups.
type FormationSettings struct {
	TimeoutHours     int `json:"timeout_hours"`
	ThresholdPercent int `json:"threshold_percent"`
}
