package domain

import "time"

const (
	RoleAdmin  = "admin"
	RoleDriver = "driver"
	RoleSender = "sender"
)

// ValidRole reports whether role is one the relay issues tokens for.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDriver, RoleSender:
		return true
	}
	return false
}

// User is an authenticated actor. For drivers the ID doubles as driverId.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
