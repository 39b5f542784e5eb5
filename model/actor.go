package model

// Actor identifies the authenticated user driving a lifecycle transition.
// It is opaque input to guard checks; the identity provider fills it in.
type Actor struct {
	ID          uint   `json:"id"`
	Role        string `json:"role"`
	MasterSales bool   `json:"master_sales"`
}

// Roles
const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
