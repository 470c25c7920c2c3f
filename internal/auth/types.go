package auth

import (
	"context"
	"time"
)

// Role of a user. Only ADMIN is distinguished; everyone else is USER.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// User is a credential record. PasswordHash never leaves the process.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal is the identity carried by a verified token.
type Principal struct {
	UserID int64
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// UserStore is the credential store consulted at login and provisioning.
type UserStore interface {
	// FindUserByEmail returns ErrNotFound when no user has the address.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	// CreateUser returns ErrAlreadyExists on a duplicate email.
	CreateUser(ctx context.Context, u User) (User, error)
}
