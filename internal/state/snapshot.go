package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/models"
)

// Snapshot is a consistent, read-only view of roles and users.
// Records returned by its accessors are shared and must not be modified.
type Snapshot struct {
	roles     map[uuid.UUID]*models.Role
	users     map[uuid.UUID]*models.User
	roleOrder []uuid.UUID
	userOrder []uuid.UUID

	roleNames  map[string]uuid.UUID
	userEmails map[string]uuid.UUID
	roleRefs   map[uuid.UUID]int
}

// Empty returns a snapshot with no roles and no users
func Empty() *Snapshot {
	return &Snapshot{
		roles:      map[uuid.UUID]*models.Role{},
		users:      map[uuid.UUID]*models.User{},
		roleNames:  map[string]uuid.UUID{},
		userEmails: map[string]uuid.UUID{},
		roleRefs:   map[uuid.UUID]int{},
	}
}

// NewSnapshot builds a snapshot from persisted records, preserving their order.
// It fails when the records break name/email uniqueness or reference an unknown role.
func NewSnapshot(roles []*models.Role, users []*models.User) (*Snapshot, error) {
	d := Empty().Edit()
	for _, r := range roles {
		if id, ok := d.next.roleNames[r.NameKey()]; ok && id != r.ID {
			return nil, fmt.Errorf("role %s: name %q already used by role %s", r.ID, r.Name, id)
		}
		d.PutRole(r)
	}
	for _, u := range users {
		if _, ok := d.next.roles[u.RoleID]; !ok {
			return nil, fmt.Errorf("user %s references unknown role %s", u.ID, u.RoleID)
		}
		if id, ok := d.next.userEmails[u.EmailKey()]; ok && id != u.ID {
			return nil, fmt.Errorf("user %s: email %q already used by user %s", u.ID, u.Email, id)
		}
		d.PutUser(u)
	}
	return d.Commit(), nil
}

// Role returns the role with the given id
func (s *Snapshot) Role(id uuid.UUID) (*models.Role, bool) {
	r, ok := s.roles[id]
	return r, ok
}

// User returns the user with the given id
func (s *Snapshot) User(id uuid.UUID) (*models.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// Roles returns all roles in creation order
func (s *Snapshot) Roles() []*models.Role {
	out := make([]*models.Role, 0, len(s.roleOrder))
	for _, id := range s.roleOrder {
		out = append(out, s.roles[id])
	}
	return out
}

// Users returns all users in creation order
func (s *Snapshot) Users() []*models.User {
	out := make([]*models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, s.users[id])
	}
	return out
}

// RoleIDByName looks a role up by case-folded name
func (s *Snapshot) RoleIDByName(name string) (uuid.UUID, bool) {
	id, ok := s.roleNames[models.FoldName(name)]
	return id, ok
}

// UserIDByEmail looks a user up by case-folded email
func (s *Snapshot) UserIDByEmail(email string) (uuid.UUID, bool) {
	id, ok := s.userEmails[models.FoldName(email)]
	return id, ok
}

// RoleInUse reports whether any user references the role
func (s *Snapshot) RoleInUse(id uuid.UUID) bool {
	return s.roleRefs[id] > 0
}

// RoleCount returns the number of roles
func (s *Snapshot) RoleCount() int { return len(s.roles) }

// UserCount returns the number of users
func (s *Snapshot) UserCount() int { return len(s.users) }

// Edit starts a draft based on s. s itself is left untouched.
func (s *Snapshot) Edit() *Draft {
	return &Draft{next: &Snapshot{
		roles:      maps.Clone(s.roles),
		users:      maps.Clone(s.users),
		roleOrder:  slices.Clone(s.roleOrder),
		userOrder:  slices.Clone(s.userOrder),
		roleNames:  maps.Clone(s.roleNames),
		userEmails: maps.Clone(s.userEmails),
		roleRefs:   maps.Clone(s.roleRefs),
	}}
}

// Draft accumulates changes for the next snapshot.
// Records passed in become owned by the snapshot and must not be modified afterwards.
type Draft struct {
	next *Snapshot
}

// PutRole inserts or replaces a role
func (d *Draft) PutRole(r *models.Role) {
	s := d.next
	if old, ok := s.roles[r.ID]; ok {
		dropIndex(s.roleNames, old.NameKey(), r.ID)
	} else {
		s.roleOrder = append(s.roleOrder, r.ID)
	}
	s.roles[r.ID] = r
	s.roleNames[r.NameKey()] = r.ID
}

// DeleteRole removes a role
func (d *Draft) DeleteRole(id uuid.UUID) {
	s := d.next
	old, ok := s.roles[id]
	if !ok {
		return
	}
	delete(s.roles, id)
	dropIndex(s.roleNames, old.NameKey(), id)
	delete(s.roleRefs, id)
	s.roleOrder = slices.DeleteFunc(s.roleOrder, func(x uuid.UUID) bool { return x == id })
}

// PutUser inserts or replaces a user
func (d *Draft) PutUser(u *models.User) {
	s := d.next
	if old, ok := s.users[u.ID]; ok {
		dropIndex(s.userEmails, old.EmailKey(), u.ID)
		d.unref(old.RoleID)
	} else {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
	s.userEmails[u.EmailKey()] = u.ID
	s.roleRefs[u.RoleID]++
}

// DeleteUser removes a user
func (d *Draft) DeleteUser(id uuid.UUID) {
	s := d.next
	old, ok := s.users[id]
	if !ok {
		return
	}
	delete(s.users, id)
	dropIndex(s.userEmails, old.EmailKey(), id)
	d.unref(old.RoleID)
	s.userOrder = slices.DeleteFunc(s.userOrder, func(x uuid.UUID) bool { return x == id })
}

// dropIndex removes key only while it still points at owner
func dropIndex(index map[string]uuid.UUID, key string, owner uuid.UUID) {
	if index[key] == owner {
		delete(index, key)
	}
}

func (d *Draft) unref(roleID uuid.UUID) {
	if n := d.next.roleRefs[roleID]; n <= 1 {
		delete(d.next.roleRefs, roleID)
	} else {
		d.next.roleRefs[roleID] = n - 1
	}
}

// Commit returns the finished snapshot. The draft must not be used afterwards.
func (d *Draft) Commit() *Snapshot {
	s := d.next
	d.next = nil
	return s
}
