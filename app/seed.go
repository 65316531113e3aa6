package app

import (
	"context"
	"fmt"

	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services/roles"
	"github.com/upb/access-control-plane/services/users"
	"go.uber.org/zap"
)

type seedRole struct {
	name        string
	description string
	grants      models.Grants
}

type seedUser struct {
	name  string
	email string
	role  string
}

func demoRoles() []seedRole {
	all := make(models.Grants, len(models.AllResources))
	for _, r := range models.AllResources {
		all[r] = append([]models.Permission(nil), models.AllPermissions...)
	}

	return []seedRole{
		{
			name:        "Admin",
			description: "Full access to every resource",
			grants:      all,
		},
		{
			name:        "Editor",
			description: "Manages content and reads configuration",
			grants: models.Grants{
				models.ResourceUsers:    {models.PermissionRead, models.PermissionWrite},
				models.ResourceRoles:    {models.PermissionRead},
				models.ResourceReports:  {models.PermissionRead, models.PermissionWrite},
				models.ResourceSettings: {models.PermissionRead},
			},
		},
	}
}

var demoUsers = []seedUser{
	{name: "John Doe", email: "john@vrvsecurity.com", role: "Admin"},
	{name: "Jane Smith", email: "jane@vrvsecurity.com", role: "Editor"},
}

// SeedDemoData creates the demo roles and users through the regular services.
// Nothing is written when any role already exists.
func SeedDemoData(ctx context.Context, roleSvc *roles.RoleService, userSvc *users.UserService, logger *zap.Logger) error {
	if len(roleSvc.ListRoles()) > 0 {
		logger.Info("roles already present, skipping demo seed")
		return nil
	}

	created := make(map[string]*models.Role)
	for _, r := range demoRoles() {
		role, err := roleSvc.CreateRole(ctx, models.ActorSystem, r.name, r.description, r.grants)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", r.name, err)
		}
		created[r.name] = role
	}

	for _, u := range demoUsers {
		if _, err := userSvc.CreateUser(ctx, models.ActorSystem, u.name, u.email, created[u.role].ID, true); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.email, err)
		}
	}

	logger.Info("seeded demo data",
		zap.Int("roles", len(created)),
		zap.Int("users", len(demoUsers)))
	return nil
}
