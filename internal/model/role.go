package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the single role a principal holds.
type Role string

const (
	// RoleCapture creates scan records (technicians).
	RoleCapture Role = "capture"
	// RoleReview reads records and exports reports (dentists).
	RoleReview Role = "review"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCapture || r == RoleReview
}

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Principal is an authenticated identity supplied by the identity provider.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// RoleRecord is the persisted role of one principal.
type RoleRecord struct {
	PrincipalID string    `json:"principalId"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	FullName    string    `json:"fullName"`
	CreatedAt   time.Time `json:"createdAt"`
}
