package domain

// Role is an account capability carried in the bearer credential.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User is the subset of the account record the gateway needs.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Roles     []Role `json:"roles"`
	Suspended bool   `json:"suspended"`
}

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	UserID string
	Email  string
	Roles  []Role
}

func (i Identity) HasRole(r Role) bool {
	for _, have := range i.Roles {
		if have == r || have == RoleAdmin {
			return true
		}
	}
	return false
}
