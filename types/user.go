package types

import (
	"slices"
	"strings"
	"time"
)

// RoleAdmin grants permission to approve and reject deposits.
const RoleAdmin = "admin"

// User represents an account in the system.
// It contains identity, roles, and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Phone is the unique login key chosen by the user.
	Phone string `json:"phone" db:"phone"`

	// FirstName is the user's given name.
	FirstName string `json:"firstName" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"lastName" db:"last_name"`

	// Email is the user's email address. It is optional and not unique.
	Email string `json:"email" db:"email"`

	// Roles is the set of capability flags granted to the user
	// (e.g., "admin"). Regular users have no roles.
	Roles []string `json:"roles" db:"roles"`

	// PasswordHash stores the bcrypt representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// LegacyPassword holds the plaintext password of records created before
	// hashing was introduced. It is cleared on the first successful login.
	// This field is never exposed in API responses.
	LegacyPassword string `json:"-" db:"legacy_password"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HasRole reports whether the user carries the given role (case-insensitive).
func (u User) HasRole(role string) bool {
	return slices.ContainsFunc(u.Roles, func(r string) bool {
		return strings.EqualFold(r, role)
	})
}

// IsAdmin reports whether the user may resolve deposits.
func (u User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}
