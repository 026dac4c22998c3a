package domain

type Role string

const (
	RoleClient   Role = "client"
	RoleGuard    Role = "guard"
	RoleOperator Role = "operator"
)

// Actor is the authenticated caller. ID doubles as the rate-limit identity.
type Actor struct {
	ID   string
	Role Role
}

// CanSee reports whether the actor may read booking b.
func (a Actor) CanSee(b Booking) bool {
	switch a.Role {
	case RoleOperator:
		return true
	case RoleGuard:
		return b.GuardID != "" && b.GuardID == a.ID
	default:
		return b.ClientID == a.ID
	}
}
