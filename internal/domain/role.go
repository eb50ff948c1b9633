package domain

// Role enumerates the closed set of principal roles. Authorization is
// expressed through the capability predicates below rather than inline
// role-list checks.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// CanTriage reports whether the role may view and edit any ticket.
func (r Role) CanTriage() bool {
	return r == RoleAgent || r == RoleAdmin
}

// CanAssign reports whether the role may change ticket assignment.
func (r Role) CanAssign() bool {
	return r == RoleAgent || r == RoleAdmin
}

// CanSeeInternalNotes reports whether internal notes may be shown to the role.
func (r Role) CanSeeInternalNotes() bool {
	return r == RoleAgent || r == RoleAdmin
}

// CanBeAssignee reports whether a ticket may be assigned to a holder of
// the role. Checked at assignment time only; later role drift does not
// retroactively invalidate existing assignments.
func (r Role) CanBeAssignee() bool {
	return r == RoleAgent || r == RoleAdmin
}

// IsAdmin reports whether the role is the administrator role.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}
