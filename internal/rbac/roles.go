package rbac

// Role names. Keep these stable; they are part of the token and wire contracts.
const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStaff, RoleCustomer:
		return true
	default:
		return false
	}
}

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanAnswerCalls reports whether the role belongs to a tenant's support pool.
func CanAnswerCalls(role string) bool { return role == RoleAdmin }

// CanPlaceCalls reports whether the role may ring the support pool.
// Agents never ring their own pool.
func CanPlaceCalls(role string) bool { return role == RoleCustomer || role == RoleStaff }
