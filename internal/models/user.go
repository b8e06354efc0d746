package models

import "time"

// Role is a user's authorization role
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User represents a user in the system
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PhoneNumber  string    `json:"phone_number"`
	PasswordHash string    `json:"-"` // Not serialized
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is an already-authenticated caller. It is resolved by the
// transport layer and passed explicitly into every user-scoped operation.
type Principal struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the principal holds the administrative capability
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
