package clubs

import "time"

// Role is a member's role within one club.
type Role string

const (
	RoleMember        Role = "member"
	RoleEditor        Role = "editor"
	RoleVicePresident Role = "vice_president"
	RolePresident     Role = "president"
)

// ValidRole reports whether the value belongs to the fixed role vocabulary.
func ValidRole(r Role) bool {
	switch r {
	case RoleMember, RoleEditor, RoleVicePresident, RolePresident:
		return true
	}
	return false
}

type Club struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	ClubID int  `json:"club_id"`
	UserID int  `json:"user_id"`
	Role   Role `json:"role"`
}
