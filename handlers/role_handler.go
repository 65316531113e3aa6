package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/access-control-plane/middleware"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services"
	"github.com/upb/access-control-plane/services/roles"
	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

// CreateRoleRequest represents a request to create a role
type CreateRoleRequest struct {
	Name        string              `json:"name" validate:"required,max=100"`
	Description string              `json:"description" validate:"max=500"`
	Grants      map[string][]string `json:"grants"`
}

// UpdateRoleRequest represents a request to update a role.
// Omitted fields are left unchanged; an empty grants object clears all grants.
type UpdateRoleRequest struct {
	Name            *string             `json:"name,omitempty" validate:"omitempty,max=100"`
	Description     *string             `json:"description,omitempty" validate:"omitempty,max=500"`
	Grants          map[string][]string `json:"grants,omitempty"`
	ExpectedVersion *int64              `json:"expected_version,omitempty"`
}

// RoleService defines the role operations the handler needs
type RoleService interface {
	CreateRole(ctx context.Context, actor, name, description string, grants models.Grants) (*models.Role, error)
	UpdateRole(ctx context.Context, actor string, id uuid.UUID, patch roles.RolePatch, expectedVersion int64) (*models.Role, error)
	DeleteRole(ctx context.Context, actor string, id uuid.UUID, expectedVersion int64) error
	GetRole(id uuid.UUID) (*models.Role, error)
	ListRoles() []*models.Role
}

// RoleHandler handles role-related HTTP requests
type RoleHandler struct {
	roles  RoleService
	logger *zap.Logger
}

// NewRoleHandler creates a new RoleHandler
func NewRoleHandler(roles RoleService, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{
		roles:  roles,
		logger: logger,
	}
}

// HandleListRoles handles GET /api/v1/roles
func (h *RoleHandler) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.roles.ListRoles())
}

// HandleGetRole handles GET /api/v1/roles/{id}
func (h *RoleHandler) HandleGetRole(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	role, err := h.roles.GetRole(id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, role.Version)
	_ = utils.WriteOK(w, role)
}

// HandleCreateRole handles POST /api/v1/roles
func (h *RoleHandler) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateRoleRequest
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

	grants, err := models.ParseGrants(req.Grants)
	if err != nil {
		HandleServiceError(w, services.NewInvalidValueError(err), h.logger)
		return
	}

	role, err := h.roles.CreateRole(ctx, middleware.ActorFromContext(ctx), req.Name, req.Description, grants)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Location", "/api/v1/roles/"+role.ID.String())
	setETag(w, role.Version)
	_ = utils.WriteCreated(w, role)
}

// HandleUpdateRole handles PATCH /api/v1/roles/{id}
func (h *RoleHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req UpdateRoleRequest
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

	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeVersionError(w, err, h.logger)
		return
	}

	patch := roles.RolePatch{
		Name:        req.Name,
		Description: req.Description,
	}
	if req.Grants != nil {
		grants, err := models.ParseGrants(req.Grants)
		if err != nil {
			HandleServiceError(w, services.NewInvalidValueError(err), h.logger)
			return
		}
		patch.Grants = grants
	}

	role, err := h.roles.UpdateRole(ctx, middleware.ActorFromContext(ctx), id, patch, version)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, role.Version)
	_ = utils.WriteOK(w, role)
}

// HandleDeleteRole handles DELETE /api/v1/roles/{id}
func (h *RoleHandler) HandleDeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	version, err := expectedVersion(r, nil)
	if err != nil {
		writeVersionError(w, err, h.logger)
		return
	}

	if err := h.roles.DeleteRole(ctx, middleware.ActorFromContext(ctx), id, version); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}
