package models

import (
	"strings"
	"time"
)

// Role represents user role in the platform.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleSpeaker Role = "speaker"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleSpeaker:
		return true
	}
	return false
}

// UserProfile holds a user's role and promotion audit trail.
type UserProfile struct {
	UID        string     `json:"uid"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	IsApproved bool       `json:"isApproved"`
	PromotedBy *string    `json:"promotedBy"`
	PromotedAt *time.Time `json:"promotedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Credentials maps a login email to a user. Keyed by lower-cased email.
type Credentials struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

// NormalizeEmail is the form emails are stored and matched in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
