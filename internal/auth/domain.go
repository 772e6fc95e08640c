package auth

import (
	"time"

	"github.com/admissions-portal/portal/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         shared.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the request identity for the user.
func (u User) Principal() shared.Principal {
	return shared.Principal{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// NewUser carries the fields required to register an account.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	Role         shared.Role
}
