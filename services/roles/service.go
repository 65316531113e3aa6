package roles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/internal/state"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services"
	"github.com/upb/access-control-plane/services/coordinator"
	"go.uber.org/zap"
)

// RolePatch lists the fields an update changes. Nil fields are left alone.
type RolePatch struct {
	Name        *string
	Description *string
	Grants      models.Grants // nil leaves grants unchanged; an empty map clears them
}

type roleInput struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=500"`
}

// RoleService owns role definitions. Every write goes through the coordinator.
type RoleService struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// NewRoleService creates a new RoleService instance
func NewRoleService(coord *coordinator.Coordinator, logger *zap.Logger) *RoleService {
	return &RoleService{
		coord:  coord,
		logger: logger,
	}
}

// CreateRole creates a role at version 1 with normalized grants
func (s *RoleService) CreateRole(ctx context.Context, actor, name, description string, grants models.Grants) (*models.Role, error) {
	name = strings.TrimSpace(name)
	if err := services.ValidateInput(roleInput{Name: name, Description: description}); err != nil {
		return nil, err
	}
	if err := grants.Validate(); err != nil {
		return nil, services.NewInvalidValueError(err)
	}

	role := models.NewRole(name, description, grants)

	change, err := s.coord.Execute(ctx, actor, coordinator.Mutation{
		Entity: models.EntityTypeRole,
		Action: models.AuditActionCreated,
		Keys:   []string{coordinator.RoleKey(role.ID), coordinator.RoleNameKey(name)},
		Prepare: func(snap *state.Snapshot, now time.Time) (*coordinator.Change, error) {
			if _, taken := snap.RoleIDByName(name); taken {
				return nil, duplicateNameError(name)
			}
			role.CreatedAt, role.UpdatedAt = now, now
			return &coordinator.Change{
				EntityType:    models.EntityTypeRole,
				EntityID:      role.ID,
				Action:        models.AuditActionCreated,
				BeforeVersion: 0,
				AfterVersion:  role.Version,
				Role:          role,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("role created",
		zap.String("role_id", role.ID.String()),
		zap.String("name", role.Name),
		zap.String("actor", actor))

	return change.Role.Clone(), nil
}

// UpdateRole applies patch when expectedVersion matches the stored version
func (s *RoleService) UpdateRole(ctx context.Context, actor string, id uuid.UUID, patch RolePatch, expectedVersion int64) (*models.Role, error) {
	keys := []string{coordinator.RoleKey(id)}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		patch.Name = &name
		keys = append(keys, coordinator.RoleNameKey(name))
	}

	change, err := s.coord.Execute(ctx, actor, coordinator.Mutation{
		Entity: models.EntityTypeRole,
		Action: models.AuditActionUpdated,
		Keys:   keys,
		Prepare: func(snap *state.Snapshot, now time.Time) (*coordinator.Change, error) {
			current, err := currentRole(snap, id, expectedVersion)
			if err != nil {
				return nil, err
			}

			next := current.Clone()
			if patch.Name != nil {
				next.Name = *patch.Name
			}
			if patch.Description != nil {
				next.Description = *patch.Description
			}
			if err := services.ValidateInput(roleInput{Name: next.Name, Description: next.Description}); err != nil {
				return nil, err
			}
			if patch.Grants != nil {
				if err := patch.Grants.Validate(); err != nil {
					return nil, services.NewInvalidValueError(err)
				}
				next.Grants = models.NormalizeGrants(patch.Grants)
			}
			if patch.Name != nil {
				if other, taken := snap.RoleIDByName(next.Name); taken && other != id {
					return nil, duplicateNameError(next.Name)
				}
			}
			next.Version = current.Version + 1
			next.UpdatedAt = now

			return &coordinator.Change{
				EntityType:    models.EntityTypeRole,
				EntityID:      id,
				Action:        models.AuditActionUpdated,
				BeforeVersion: current.Version,
				AfterVersion:  next.Version,
				Role:          next,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("role updated",
		zap.String("role_id", id.String()),
		zap.Int64("version", change.AfterVersion),
		zap.String("actor", actor))

	return change.Role.Clone(), nil
}

// DeleteRole removes a role no user references
func (s *RoleService) DeleteRole(ctx context.Context, actor string, id uuid.UUID, expectedVersion int64) error {
	_, err := s.coord.Execute(ctx, actor, coordinator.Mutation{
		Entity: models.EntityTypeRole,
		Action: models.AuditActionDeleted,
		Keys:   []string{coordinator.RoleKey(id)},
		Prepare: func(snap *state.Snapshot, _ time.Time) (*coordinator.Change, error) {
			current, err := currentRole(snap, id, expectedVersion)
			if err != nil {
				return nil, err
			}
			if snap.RoleInUse(id) {
				return nil, services.NewDomainError(services.ErrorTypeReferencedByUser,
					fmt.Sprintf("role %q is assigned to at least one user", current.Name), nil).
					WithDetail("id", id.String())
			}
			return &coordinator.Change{
				EntityType:    models.EntityTypeRole,
				EntityID:      id,
				Action:        models.AuditActionDeleted,
				BeforeVersion: current.Version,
				AfterVersion:  0,
				Delete:        true,
			}, nil
		},
	})
	if err != nil {
		return err
	}

	s.logger.Info("role deleted", zap.String("role_id", id.String()), zap.String("actor", actor))
	return nil
}

// GetRole returns a copy of the role
func (s *RoleService) GetRole(id uuid.UUID) (*models.Role, error) {
	role, ok := s.coord.Snapshot().Role(id)
	if !ok {
		return nil, services.NewNotFoundError("role", id)
	}
	return role.Clone(), nil
}

// ListRoles returns copies of all roles in creation order
func (s *RoleService) ListRoles() []*models.Role {
	roles := s.coord.Snapshot().Roles()
	out := make([]*models.Role, len(roles))
	for i, r := range roles {
		out[i] = r.Clone()
	}
	return out
}

func currentRole(snap *state.Snapshot, id uuid.UUID, expectedVersion int64) (*models.Role, error) {
	current, ok := snap.Role(id)
	if !ok {
		return nil, services.NewNotFoundError("role", id)
	}
	if current.Version != expectedVersion {
		return nil, services.NewVersionConflictError("role", id, expectedVersion, current.Version)
	}
	return current, nil
}

func duplicateNameError(name string) error {
	return services.NewDomainError(services.ErrorTypeDuplicateName,
		fmt.Sprintf("role name %q already exists", name), nil).
		WithDetail("name", name)
}
