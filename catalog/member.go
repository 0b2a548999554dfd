package catalog

import (
	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
)

// Role controls which circulation actions a member may perform.
type Role string

const (
	// RoleAdmin may manage the catalog and circulate.
	RoleAdmin Role = "admin"
	// RoleLibrarian may manage the catalog and circulate.
	RoleLibrarian Role = "librarian"
	// RoleMember may borrow, return, and reserve only.
	RoleMember Role = "member"
)

// CanManageCatalog reports whether the role may add, edit, or remove books
// and members.
func (r Role) CanManageCatalog() bool {
	return r == RoleAdmin || r == RoleLibrarian
}

// CanCirculate reports whether the role may borrow, return, and reserve.
// Every known role can; unknown roles cannot.
func (r Role) CanCirculate() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleMember:
		return true
	default:
		return false
	}
}

// Member is a registered library member.
type Member struct {
	circulate.Entity

	ID    id.MemberID `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  Role        `json:"role"`
}
