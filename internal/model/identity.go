package model

import "time"

// Principal is the authenticated identity of a caller.
type Principal string

// Role of a registered identity
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
)

// Identity represents a registered principal
type Identity struct {
	Principal    Principal `json:"principal" db:"principal"`
	Name         string    `json:"name" db:"name"`
	Contact      string    `json:"contact" db:"contact"`
	Role         Role      `json:"role" db:"role"`
	Registered   bool      `json:"registered" db:"registered"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// IsProvider reports whether the identity may author records.
func (i Identity) IsProvider() bool {
	return i.Role == RoleProvider
}

// RoleFor converts the is-provider flag used on registration into a Role.
func RoleFor(isProvider bool) Role {
	if isProvider {
		return RoleProvider
	}
	return RolePatient
}

// RegisterUserRequest leaves empty names and contacts to the ledger, which
// reports them as empty fields.
type RegisterUserRequest struct {
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	IsProvider bool   `json:"is_provider"`
}

// PrincipalURI binds a principal path parameter for lookups that have no
// ledger preconditions.
type PrincipalURI struct {
	Principal Principal `uri:"principal" binding:"required,principal"`
}
