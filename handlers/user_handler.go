package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/access-control-plane/middleware"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services/users"
	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Name   string `json:"name" validate:"required,max=100"`
	Email  string `json:"email" validate:"required,email,max=254"`
	RoleID string `json:"role_id" validate:"required,uuid"`
	Active *bool  `json:"active,omitempty"` // defaults to true
}

// UpdateUserRequest represents a request to update a user. Omitted fields are left unchanged.
type UpdateUserRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	RoleID          *string `json:"role_id,omitempty" validate:"omitempty,uuid"`
	Active          *bool   `json:"active,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

// SetActiveRequest represents a request to activate or deactivate a user
type SetActiveRequest struct {
	Active          *bool  `json:"active" validate:"required"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// UserService defines the user operations the handler needs
type UserService interface {
	CreateUser(ctx context.Context, actor, name, email string, roleID uuid.UUID, active bool) (*models.User, error)
	UpdateUser(ctx context.Context, actor string, id uuid.UUID, patch users.UserPatch, expectedVersion int64) (*models.User, error)
	SetActive(ctx context.Context, actor string, id uuid.UUID, active bool, expectedVersion int64) (*models.User, error)
	DeleteUser(ctx context.Context, actor string, id uuid.UUID, expectedVersion int64) error
	GetUser(id uuid.UUID) (*models.User, error)
	ListUsers() []*models.User
}

// AccessChecker answers whether a user holds a permission
type AccessChecker interface {
	CheckAccess(userID uuid.UUID, resource models.Resource, permission models.Permission) (models.Decision, error)
}

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	users  UserService
	access AccessChecker
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler. access gates the fields of a
// user update that only users:manage may change.
func NewUserHandler(users UserService, access AccessChecker, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		access: access,
		logger: logger,
	}
}

// HandleListUsers handles GET /api/v1/users
func (h *UserHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.users.ListUsers())
}

// HandleGetUser handles GET /api/v1/users/{id}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.users.GetUser(id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, user.Version)
	_ = utils.WriteOK(w, user)
}

// HandleCreateUser handles POST /api/v1/users
func (h *UserHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateUserRequest
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

	roleID, err := utils.ParseUUID(req.RoleID, "role_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	user, err := h.users.CreateUser(ctx, middleware.ActorFromContext(ctx), req.Name, req.Email, roleID, active)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Location", "/api/v1/users/"+user.ID.String())
	setETag(w, user.Version)
	_ = utils.WriteCreated(w, user)
}

// HandleUpdateUser handles PATCH /api/v1/users/{id}
func (h *UserHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req UpdateUserRequest
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

	// activation and role assignment are users:manage operations
	if req.Active != nil || req.RoleID != nil {
		if !requireUsersManage(w, r, h.access, h.logger) {
			return
		}
	}

	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		writeVersionError(w, err, h.logger)
		return
	}

	patch := users.UserPatch{
		Name:   req.Name,
		Email:  req.Email,
		Active: req.Active,
	}
	if req.RoleID != nil {
		roleID, err := utils.ParseUUID(*req.RoleID, "role_id")
		if err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
		patch.RoleID = &roleID
	}

	user, err := h.users.UpdateUser(ctx, middleware.ActorFromContext(ctx), id, patch, version)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, user.Version)
	_ = utils.WriteOK(w, user)
}

// HandleSetActive handles PUT /api/v1/users/{id}/active
func (h *UserHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req SetActiveRequest
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

	user, err := h.users.SetActive(ctx, middleware.ActorFromContext(ctx), id, *req.Active, version)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, user.Version)
	_ = utils.WriteOK(w, user)
}

// HandleDeleteUser handles DELETE /api/v1/users/{id}
func (h *UserHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
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

	if err := h.users.DeleteUser(ctx, middleware.ActorFromContext(ctx), id, version); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// requireUsersManage writes 401 or 403 and returns false unless the calling
// principal holds users:manage
func requireUsersManage(w http.ResponseWriter, r *http.Request, access AccessChecker, logger *zap.Logger) bool {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return false
	}

	decision, err := access.CheckAccess(principal.UserID, models.ResourceUsers, models.PermissionManage)
	if err != nil {
		HandleServiceError(w, err, logger)
		return false
	}
	if !decision.Allowed {
		logger.Warn("users:manage required",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("user_id", principal.UserID.String()),
			zap.String("path", r.URL.Path))
		_ = utils.WriteForbidden(w, "This operation requires users:manage", map[string]interface{}{
			"resource":   string(models.ResourceUsers),
			"permission": string(models.PermissionManage),
			"reason":     string(decision.Reason),
		})
		return false
	}
	return true
}
