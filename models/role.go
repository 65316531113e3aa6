package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a named bundle of grants assigned to users
type Role struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Grants      Grants    `json:"grants" db:"grants"` // JSONB
	Version     int64     `json:"version" db:"version"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Role model
func (Role) TableName() string {
	return "roles"
}

// NewRole creates a new Role at version 1 with normalized grants
func NewRole(name, description string, grants Grants) *Role {
	now := time.Now().UTC()
	return &Role{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Description: description,
		Grants:      NormalizeGrants(grants),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NameKey returns the case-folded name used for uniqueness checks
func (r *Role) NameKey() string {
	return FoldName(r.Name)
}

// Clone returns a deep copy of the role
func (r *Role) Clone() *Role {
	c := *r
	c.Grants = r.Grants.Clone()
	return &c
}

// FoldName case-folds a role name or email for comparison
func FoldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
