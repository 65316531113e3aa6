// Package access answers authorization questions over a consistent snapshot
// of roles and users.
package access

import (
	"github.com/google/uuid"
	"github.com/upb/access-control-plane/internal/observability"
	"github.com/upb/access-control-plane/internal/state"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services"
	"go.uber.org/zap"
)

// SnapshotSource supplies the latest committed state
type SnapshotSource interface {
	Snapshot() *state.Snapshot
}

// Engine is the access decision engine. Decisions are never cached.
type Engine struct {
	source  SnapshotSource
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEngine creates a new Engine
func NewEngine(source SnapshotSource, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		source:  source,
		metrics: metrics,
		logger:  logger,
	}
}

// CheckAccess decides whether the user may perform permission on resource.
// Unknown resource or permission literals fail with an invalid_value error.
func (e *Engine) CheckAccess(userID uuid.UUID, resource models.Resource, permission models.Permission) (models.Decision, error) {
	if !models.IsValidResource(resource) {
		_, err := models.ParseResource(string(resource))
		return models.Decision{}, services.NewInvalidValueError(err)
	}
	if !models.IsValidPermission(permission) {
		_, err := models.ParsePermission(string(permission))
		return models.Decision{}, services.NewInvalidValueError(err)
	}

	decision := Decide(e.source.Snapshot(), userID, resource, permission)
	e.metrics.RecordDecision(decision.Outcome(), string(decision.Reason))

	if decision.Reason == models.ReasonRoleUnresolvable {
		e.logger.Error("user references a role that does not exist",
			zap.String("user_id", userID.String()))
	}
	return decision, nil
}

// Check parses literal resource and permission names before deciding
func (e *Engine) Check(userID uuid.UUID, resource, permission string) (models.Decision, error) {
	r, err := models.ParseResource(resource)
	if err != nil {
		return models.Decision{}, services.NewInvalidValueError(err)
	}
	p, err := models.ParsePermission(permission)
	if err != nil {
		return models.Decision{}, services.NewInvalidValueError(err)
	}
	return e.CheckAccess(userID, r, p)
}

// EffectiveGrants returns a copy of the grants the user currently holds.
// Unknown, inactive or unresolvable users hold nothing.
func (e *Engine) EffectiveGrants(userID uuid.UUID) models.Grants {
	snap := e.source.Snapshot()
	user, ok := snap.User(userID)
	if !ok || !user.Active {
		return models.Grants{}
	}
	role, ok := snap.Role(user.RoleID)
	if !ok {
		return models.Grants{}
	}
	return role.Grants.Clone()
}

// Decide evaluates one access question against snap. Any inconsistency denies.
func Decide(snap *state.Snapshot, userID uuid.UUID, resource models.Resource, permission models.Permission) models.Decision {
	user, ok := snap.User(userID)
	if !ok || !user.Active {
		return models.Deny(models.ReasonUserInactiveOrUnknown)
	}

	role, ok := snap.Role(user.RoleID)
	if !ok {
		return models.Deny(models.ReasonRoleUnresolvable)
	}

	perms, ok := role.Grants[resource]
	if !ok || len(perms) == 0 {
		return models.Deny(models.ReasonNoGrantForResource)
	}

	if !role.Grants.Has(resource, permission) {
		return models.Deny(models.ReasonPermissionNotGranted)
	}
	return models.Allow()
}
