package model

import "time"

// Role is an attendant's access level.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleAttendant  Role = "attendant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleAttendant:
		return true
	}
	return false
}

// Attendant is a human agent working the console.
type Attendant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Department groups attendants serving one queue.
type Department struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Actor is the authenticated caller of a router operation.
type Actor struct {
	ID            string
	Role          Role
	DepartmentIDs []string
}

// IsAdmin reports whether the actor sees every department.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Manages reports whether the actor may act on conv without owning it:
// admins everywhere, supervisors inside their own departments.
func (a Actor) Manages(conv *Conversation) bool {
	if a.IsAdmin() {
		return true
	}
	if a.Role != RoleSupervisor || conv.DepartmentID == nil {
		return false
	}
	for _, d := range a.DepartmentIDs {
		if d == *conv.DepartmentID {
			return true
		}
	}
	return false
}
