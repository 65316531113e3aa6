package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

// AccessChecker answers access questions for the authenticated caller
type AccessChecker interface {
	CheckAccess(userID uuid.UUID, resource models.Resource, permission models.Permission) (models.Decision, error)
}

// PermissionMiddleware guards routes with access decisions
type PermissionMiddleware struct {
	checker AccessChecker
	logger  *zap.Logger
}

// NewPermissionMiddleware creates a new PermissionMiddleware
func NewPermissionMiddleware(checker AccessChecker, logger *zap.Logger) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
		logger:  logger,
	}
}

// RequirePermission only lets the request through when the caller holds
// permission on resource. It must run after RequireAuth.
func (m *PermissionMiddleware) RequirePermission(resource models.Resource, permission models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal := GetPrincipalFromContext(ctx)
			if principal == nil {
				m.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			decision, err := m.checker.CheckAccess(principal.UserID, resource, permission)
			if err != nil {
				m.logger.Error("failed to check access",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteInternalServerError(w, "Failed to check access")
				return
			}

			if !decision.Allowed {
				m.logger.Warn("access denied",
					zap.String("request_id", requestID),
					zap.String("user_id", principal.UserID.String()),
					zap.String("resource", string(resource)),
					zap.String("permission", string(permission)),
					zap.String("reason", string(decision.Reason)))
				_ = utils.WriteForbidden(w, "Insufficient permissions", map[string]interface{}{
					"resource":   string(resource),
					"permission": string(permission),
					"reason":     string(decision.Reason),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
