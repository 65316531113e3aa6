package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Resource identifies a protected area of the system
type Resource string

const (
	ResourceUsers    Resource = "users"
	ResourceRoles    Resource = "roles"
	ResourceReports  Resource = "reports"
	ResourceSettings Resource = "settings"
)

// AllResources lists every known resource in display order
var AllResources = []Resource{
	ResourceUsers,
	ResourceRoles,
	ResourceReports,
	ResourceSettings,
}

// Permission identifies an action on a resource.
// Permissions are ordered by privilege for display only; holding one never implies another.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
	PermissionManage Permission = "manage"
)

// AllPermissions lists every known permission in privilege order
var AllPermissions = []Permission{
	PermissionRead,
	PermissionWrite,
	PermissionDelete,
	PermissionManage,
}

var (
	// ErrUnknownResource is returned when a resource literal is not part of the vocabulary
	ErrUnknownResource = errors.New("unknown resource")

	// ErrUnknownPermission is returned when a permission literal is not part of the vocabulary
	ErrUnknownPermission = errors.New("unknown permission")
)

// IsValidResource reports whether r is a known resource
func IsValidResource(r Resource) bool {
	return slices.Contains(AllResources, r)
}

// IsValidPermission reports whether p is a known permission
func IsValidPermission(p Permission) bool {
	return slices.Contains(AllPermissions, p)
}

// Rank returns the display position of the permission, or -1 when unknown
func (p Permission) Rank() int {
	return slices.Index(AllPermissions, p)
}

// ParseResource converts a literal into a Resource
func ParseResource(s string) (Resource, error) {
	r := Resource(strings.TrimSpace(s))
	if !IsValidResource(r) {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
	}
	return r, nil
}

// ParsePermission converts a literal into a Permission
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(s))
	if !IsValidPermission(p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// Grants maps each resource to the permissions a role holds on it.
// A resource that is absent grants nothing.
type Grants map[Resource][]Permission

// ParseGrants converts a literal mapping into normalized Grants
func ParseGrants(raw map[string][]string) (Grants, error) {
	grants := make(Grants, len(raw))
	for rs, perms := range raw {
		resource, err := ParseResource(rs)
		if err != nil {
			return nil, err
		}
		for _, ps := range perms {
			permission, err := ParsePermission(ps)
			if err != nil {
				return nil, err
			}
			grants[resource] = append(grants[resource], permission)
		}
	}
	return NormalizeGrants(grants), nil
}

// Validate checks that every resource and permission is part of the vocabulary
func (g Grants) Validate() error {
	for resource, perms := range g {
		if !IsValidResource(resource) {
			return fmt.Errorf("%w: %q", ErrUnknownResource, string(resource))
		}
		for _, p := range perms {
			if !IsValidPermission(p) {
				return fmt.Errorf("%w: %q", ErrUnknownPermission, string(p))
			}
		}
	}
	return nil
}

// NormalizeGrants drops resources with no permissions, removes duplicates
// and sorts each permission list by privilege. The input is not modified.
func NormalizeGrants(g Grants) Grants {
	out := make(Grants, len(g))
	for resource, perms := range g {
		if len(perms) == 0 {
			continue
		}
		sorted := slices.Clone(perms)
		slices.SortFunc(sorted, func(a, b Permission) int {
			if ra, rb := a.Rank(), b.Rank(); ra != rb {
				return ra - rb
			}
			return strings.Compare(string(a), string(b))
		})
		out[resource] = slices.Compact(sorted)
	}
	return out
}

// Has reports whether the permission is held on the resource
func (g Grants) Has(resource Resource, permission Permission) bool {
	return slices.Contains(g[resource], permission)
}

// Clone returns a deep copy
func (g Grants) Clone() Grants {
	if g == nil {
		return nil
	}
	out := make(Grants, len(g))
	for resource, perms := range g {
		out[resource] = slices.Clone(perms)
	}
	return out
}

// Equal reports whether both grant sets hold exactly the same permissions
func (g Grants) Equal(other Grants) bool {
	a, b := NormalizeGrants(g), NormalizeGrants(other)
	if len(a) != len(b) {
		return false
	}
	for resource, perms := range a {
		if !slices.Equal(perms, b[resource]) {
			return false
		}
	}
	return true
}
