package domain

// UserRole gates what a signed-in user may do. Sellers operate the sale
// counter; admins additionally manage products, categories and stock.
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleSeller UserRole = "seller"
)

// UserProfile is the persisted record under users/{uid}. The effective
// role is resolved from the admin allow-list at sign-in, not from the
// stored record.
type UserProfile struct {
	UID       string   `json:"-"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	CreatedAt int64    `json:"createdAt,omitempty"`
}
