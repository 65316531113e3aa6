package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/repositories"
	"github.com/upb/access-control-plane/services"
)

// RepositoryJournal persists changes to the roles and users tables
type RepositoryJournal struct {
	roles repositories.RoleRepository
	users repositories.UserRepository
	txMgr repositories.TransactionManager
}

// NewRepositoryJournal creates a journal writing through the given repositories
func NewRepositoryJournal(repos *repositories.Repositories, txMgr repositories.TransactionManager) *RepositoryJournal {
	return &RepositoryJournal{
		roles: repos.Roles,
		users: repos.Users,
		txMgr: txMgr,
	}
}

// Persist writes one change inside a transaction, guarded by its before version
func (j *RepositoryJournal) Persist(ctx context.Context, change *Change) error {
	return services.WithTransaction(ctx, j.txMgr, func(ctx context.Context, _ repositories.Transaction) error {
		switch change.EntityType {
		case models.EntityTypeRole:
			return j.persistRole(ctx, change)
		case models.EntityTypeUser:
			return j.persistUser(ctx, change)
		default:
			return fmt.Errorf("unknown entity type %q", change.EntityType)
		}
	})
}

func (j *RepositoryJournal) persistRole(ctx context.Context, change *Change) error {
	switch {
	case change.Delete:
		return j.roles.Delete(ctx, change.EntityID, change.BeforeVersion)
	case change.BeforeVersion == 0:
		return j.roles.Create(ctx, change.Role)
	default:
		return j.roles.Update(ctx, change.Role, change.BeforeVersion)
	}
}

func (j *RepositoryJournal) persistUser(ctx context.Context, change *Change) error {
	switch {
	case change.Delete:
		return j.users.Delete(ctx, change.EntityID, change.BeforeVersion)
	case change.BeforeVersion == 0:
		return j.users.Create(ctx, change.User)
	case change.Action == models.AuditActionAuthenticated:
		return j.users.TouchAuthenticated(ctx, change.EntityID, *change.User.LastAuthenticatedAt, change.BeforeVersion)
	default:
		return j.users.Update(ctx, change.User, change.BeforeVersion)
	}
}

// mapPersistError turns repository sentinels into domain errors
func mapPersistError(change *Change, err error) error {
	entity := string(change.EntityType)
	switch {
	case errors.Is(err, repositories.ErrStaleVersion):
		return services.NewDomainError(services.ErrorTypeVersionConflict,
			entity+" was modified concurrently", err).
			WithDetail("id", change.EntityID.String())
	case errors.Is(err, repositories.ErrNotFound):
		return services.NewNotFoundError(entity, change.EntityID)
	case errors.Is(err, repositories.ErrDuplicateKey):
		if change.EntityType == models.EntityTypeUser {
			return services.NewDomainError(services.ErrorTypeDuplicateEmail, "email already exists", err)
		}
		return services.NewDomainError(services.ErrorTypeDuplicateName, "role name already exists", err)
	case errors.Is(err, repositories.ErrForeignKey):
		if change.EntityType == models.EntityTypeRole {
			return services.NewDomainError(services.ErrorTypeReferencedByUser, "role is assigned to at least one user", err)
		}
		return services.NewDomainError(services.ErrorTypeRoleNotFound, "referenced role does not exist", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return services.NewDomainError(services.ErrorTypeTimeout, "timed out persisting change", err)
	default:
		return services.WrapInternal("failed to persist change", err)
	}
}
