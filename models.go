package main

import "time"

// Roles understood by the authorization gate.
const (
	RoleCustomer = "customer"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleCustomer, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// User represents an identity record in the system
type User struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // bcrypt hash, never serialized
	Role      string    `json:"role"`
	TenantID  *int64    `json:"tenantId,omitempty"` // Optional: owning tenant
	CreatedAt time.Time `json:"createdAt"`
}

// UserUpdate carries the mutable fields for administrative user updates
type UserUpdate struct {
	FirstName string
	LastName  string
	Role      string
	TenantID  *int64
}

// Tenant represents an organizational scope users can belong to
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

// RefreshTokenRecord is the durable server-side proof that a refresh token is
// still valid. Deleting the record revokes the token regardless of the expiry
// embedded in its claims.
type RefreshTokenRecord struct {
	ID        int64
	UserID    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is the verified principal the authentication middleware attaches
// to the request context.
type Identity struct {
	UserID int64
	Role   string
	// RefreshRecordID is set only on refresh/logout scoped requests.
	RefreshRecordID int64
}
