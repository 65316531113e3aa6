package users

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

// UserPatch lists the fields an update changes. Nil fields are left alone.
type UserPatch struct {
	Name   *string
	Email  *string
	RoleID *uuid.UUID
	Active *bool
}

type userInput struct {
	Name  string `validate:"required,max=100"`
	Email string `validate:"required,email,max=254"`
}

// UserService owns user records. Every write goes through the coordinator.
type UserService struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// NewUserService creates a new UserService instance
func NewUserService(coord *coordinator.Coordinator, logger *zap.Logger) *UserService {
	return &UserService{
		coord:  coord,
		logger: logger,
	}
}

// CreateUser creates a user at version 1 assigned to an existing role
func (s *UserService) CreateUser(ctx context.Context, actor, name, email string, roleID uuid.UUID, active bool) (*models.User, error) {
	user := models.NewUser(name, email, roleID, active)
	if err := services.ValidateInput(userInput{Name: user.Name, Email: user.Email}); err != nil {
		return nil, err
	}

	change, err := s.coord.Execute(ctx, actor, coordinator.Mutation{
		Entity: models.EntityTypeUser,
		Action: models.AuditActionCreated,
		Keys: []string{
			coordinator.UserKey(user.ID),
			coordinator.UserEmailKey(user.Email),
			coordinator.RoleKey(roleID),
		},
		Prepare: func(snap *state.Snapshot, now time.Time) (*coordinator.Change, error) {
			if _, taken := snap.UserIDByEmail(user.Email); taken {
				return nil, duplicateEmailError(user.Email)
			}
			if _, ok := snap.Role(roleID); !ok {
				return nil, roleNotFoundError(roleID)
			}
			user.CreatedAt, user.UpdatedAt = now, now
			return &coordinator.Change{
				EntityType:    models.EntityTypeUser,
				EntityID:      user.ID,
				Action:        models.AuditActionCreated,
				BeforeVersion: 0,
				AfterVersion:  user.Version,
				User:          user,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("role_id", roleID.String()),
		zap.String("actor", actor))

	return change.User.Clone(), nil
}

// UpdateUser applies patch when expectedVersion matches the stored version
func (s *UserService) UpdateUser(ctx context.Context, actor string, id uuid.UUID, patch UserPatch, expectedVersion int64) (*models.User, error) {
	keys := []string{coordinator.UserKey(id)}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		patch.Email = &email
		keys = append(keys, coordinator.UserEmailKey(email))
	}
	if patch.RoleID != nil {
		keys = append(keys, coordinator.RoleKey(*patch.RoleID))
	}

	return s.mutate(ctx, actor, id, expectedVersion, models.AuditActionUpdated, keys,
		func(snap *state.Snapshot, next *models.User) error {
			if patch.Name != nil {
				next.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Email != nil {
				next.Email = *patch.Email
			}
			if err := services.ValidateInput(userInput{Name: next.Name, Email: next.Email}); err != nil {
				return err
			}
			if patch.Email != nil {
				if other, taken := snap.UserIDByEmail(next.Email); taken && other != id {
					return duplicateEmailError(next.Email)
				}
			}
			if patch.RoleID != nil {
				if _, ok := snap.Role(*patch.RoleID); !ok {
					return roleNotFoundError(*patch.RoleID)
				}
				next.RoleID = *patch.RoleID
			}
			if patch.Active != nil {
				next.Active = *patch.Active
			}
			return nil
		})
}

// SetActive activates or deactivates a user
func (s *UserService) SetActive(ctx context.Context, actor string, id uuid.UUID, active bool, expectedVersion int64) (*models.User, error) {
	action := models.AuditActionDeactivated
	if active {
		action = models.AuditActionActivated
	}

	return s.mutate(ctx, actor, id, expectedVersion, action, []string{coordinator.UserKey(id)},
		func(_ *state.Snapshot, next *models.User) error {
			next.Active = active
			return nil
		})
}

// mutate runs a versioned update of one user; apply edits a copy of the current record
func (s *UserService) mutate(ctx context.Context, actor string, id uuid.UUID, expectedVersion int64, action models.AuditAction, keys []string, apply func(*state.Snapshot, *models.User) error) (*models.User, error) {
	change, err := s.coord.Execute(ctx, actor, coordinator.Mutation{
		Entity: models.EntityTypeUser,
		Action: action,
		Keys:   keys,
		Prepare: func(snap *state.Snapshot, now time.Time) (*coordinator.Change, error) {
			current, err := currentUser(snap, id, expectedVersion)
			if err != nil {
				return nil, err
			}

			next := current.Clone()
			if err := apply(snap, next); err != nil {
				return nil, err
			}
			next.Version = current.Version + 1
			next.UpdatedAt = now

			return &coordinator.Change{
				EntityType:    models.EntityTypeUser,
				EntityID:      id,
				Action:        action,
				BeforeVersion: current.Version,
				AfterVersion:  next.Version,
				User:          next,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user "+string(action),
		zap.String("user_id", id.String()),
		zap.Int64("version", change.AfterVersion),
		zap.String("actor", actor))

	return change.User.Clone(), nil
}

// DeleteUser removes a user
func (s *UserService) DeleteUser(ctx context.Context, actor string, id uuid.UUID, expectedVersion int64) error {
	_, err := s.coord.Execute(ctx, actor, coordinator.Mutation{
		Entity: models.EntityTypeUser,
		Action: models.AuditActionDeleted,
		Keys:   []string{coordinator.UserKey(id)},
		Prepare: func(snap *state.Snapshot, _ time.Time) (*coordinator.Change, error) {
			current, err := currentUser(snap, id, expectedVersion)
			if err != nil {
				return nil, err
			}
			return &coordinator.Change{
				EntityType:    models.EntityTypeUser,
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

	s.logger.Info("user deleted", zap.String("user_id", id.String()), zap.String("actor", actor))
	return nil
}

// RecordAuthentication stores the time the user last authenticated.
// The timestamp only moves forward and the version is left unchanged, so
// administrators holding the current version are not forced to re-read.
func (s *UserService) RecordAuthentication(ctx context.Context, id uuid.UUID, at time.Time) (*models.User, error) {
	at = at.UTC()

	// a stale or repeated iat needs no ownership of the user
	if current, ok := s.coord.Snapshot().User(id); ok && !authMovesForward(current, at) {
		return current.Clone(), nil
	}

	change, err := s.coord.Execute(ctx, id.String(), coordinator.Mutation{
		Entity: models.EntityTypeUser,
		Action: models.AuditActionAuthenticated,
		Keys:   []string{coordinator.UserKey(id)},
		Prepare: func(snap *state.Snapshot, _ time.Time) (*coordinator.Change, error) {
			current, ok := snap.User(id)
			if !ok {
				return nil, services.NewNotFoundError("user", id)
			}
			if !authMovesForward(current, at) {
				return nil, nil
			}

			next := current.Clone()
			next.LastAuthenticatedAt = &at

			return &coordinator.Change{
				EntityType:    models.EntityTypeUser,
				EntityID:      id,
				Action:        models.AuditActionAuthenticated,
				BeforeVersion: current.Version,
				AfterVersion:  current.Version,
				User:          next,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if change == nil {
		return s.GetUser(id)
	}

	s.logger.Debug("user authenticated", zap.String("user_id", id.String()), zap.Time("at", at))
	return change.User.Clone(), nil
}

func authMovesForward(u *models.User, at time.Time) bool {
	return u.LastAuthenticatedAt == nil || at.After(*u.LastAuthenticatedAt)
}

// GetUser returns a copy of the user
func (s *UserService) GetUser(id uuid.UUID) (*models.User, error) {
	user, ok := s.coord.Snapshot().User(id)
	if !ok {
		return nil, services.NewNotFoundError("user", id)
	}
	return user.Clone(), nil
}

// ListUsers returns copies of all users in creation order
func (s *UserService) ListUsers() []*models.User {
	users := s.coord.Snapshot().Users()
	out := make([]*models.User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}

func currentUser(snap *state.Snapshot, id uuid.UUID, expectedVersion int64) (*models.User, error) {
	current, ok := snap.User(id)
	if !ok {
		return nil, services.NewNotFoundError("user", id)
	}
	if current.Version != expectedVersion {
		return nil, services.NewVersionConflictError("user", id, expectedVersion, current.Version)
	}
	return current, nil
}

func duplicateEmailError(email string) error {
	return services.NewDomainError(services.ErrorTypeDuplicateEmail,
		fmt.Sprintf("email %q already exists", email), nil).
		WithDetail("email", email)
}

func roleNotFoundError(roleID uuid.UUID) error {
	return services.NewDomainError(services.ErrorTypeRoleNotFound,
		"referenced role does not exist", nil).
		WithDetail("role_id", roleID.String())
}
