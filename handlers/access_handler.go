package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/middleware"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

// CheckAccessRequest asks whether a user may perform permission on resource.
// UserID defaults to the calling principal.
type CheckAccessRequest struct {
	UserID     string `json:"user_id,omitempty" validate:"omitempty,uuid"`
	Resource   string `json:"resource" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

// CheckAccessResponse reports an access decision
type CheckAccessResponse struct {
	UserID     uuid.UUID         `json:"user_id"`
	Resource   string            `json:"resource"`
	Permission string            `json:"permission"`
	Allowed    bool              `json:"allowed"`
	Reason     models.DenyReason `json:"reason,omitempty"`
}

// MeResponse is the calling principal's record and the grants it holds right now
type MeResponse struct {
	User   *models.User  `json:"user"`
	Grants models.Grants `json:"grants"`
}

// AccessEngine defines the decision operations the handler needs
type AccessEngine interface {
	Check(userID uuid.UUID, resource, permission string) (models.Decision, error)
	CheckAccess(userID uuid.UUID, resource models.Resource, permission models.Permission) (models.Decision, error)
	EffectiveGrants(userID uuid.UUID) models.Grants
}

// UserReader looks up user records
type UserReader interface {
	GetUser(id uuid.UUID) (*models.User, error)
}

// AccessHandler handles access decision HTTP requests
type AccessHandler struct {
	engine AccessEngine
	users  UserReader
	logger *zap.Logger
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(engine AccessEngine, users UserReader, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{
		engine: engine,
		users:  users,
		logger: logger,
	}
}

// HandleCheckAccess handles POST /api/v1/access/check
func (h *AccessHandler) HandleCheckAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req CheckAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	subject := principal.UserID
	if req.UserID != "" {
		id, err := utils.ParseUUID(req.UserID, "user_id")
		if err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
		subject = id
	}

	// asking about somebody else needs users:manage
	if subject != principal.UserID && !requireUsersManage(w, r, h.engine, h.logger) {
		return
	}

	decision, err := h.engine.Check(subject, req.Resource, req.Permission)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("access checked",
		zap.String("request_id", requestID),
		zap.String("user_id", subject.String()),
		zap.String("resource", req.Resource),
		zap.String("permission", req.Permission),
		zap.Bool("allowed", decision.Allowed))

	_ = utils.WriteOK(w, CheckAccessResponse{
		UserID:     subject,
		Resource:   req.Resource,
		Permission: req.Permission,
		Allowed:    decision.Allowed,
		Reason:     decision.Reason,
	})
}

// HandleMe handles GET /api/v1/me
func (h *AccessHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.users.GetUser(principal.UserID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, user.Version)
	_ = utils.WriteOK(w, MeResponse{
		User:   user,
		Grants: h.engine.EffectiveGrants(principal.UserID),
	})
}
