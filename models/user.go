package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a principal that holds exactly one role
type User struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	Name                string     `json:"name" db:"name"`
	Email               string     `json:"email" db:"email"`
	Active              bool       `json:"active" db:"active"`
	RoleID              uuid.UUID  `json:"role_id" db:"role_id"`
	LastAuthenticatedAt *time.Time `json:"last_authenticated_at,omitempty" db:"last_authenticated_at"`
	Version             int64      `json:"version" db:"version"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User at version 1
func NewUser(name, email string, roleID uuid.UUID, active bool) *User {
	now := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		Email:     strings.TrimSpace(email),
		Active:    active,
		RoleID:    roleID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EmailKey returns the case-folded email used for uniqueness checks
func (u *User) EmailKey() string {
	return FoldName(u.Email)
}

// Clone returns a deep copy of the user
func (u *User) Clone() *User {
	c := *u
	if u.LastAuthenticatedAt != nil {
		t := *u.LastAuthenticatedAt
		c.LastAuthenticatedAt = &t
	}
	return &c
}
