package handlers

import (
	"net/http"
	"strconv"

	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services/audit"
	"github.com/upb/access-control-plane/utils"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditTrail defines the audit query the handler needs
type AuditTrail interface {
	List(filter audit.Filter) []models.AuditEntry
}

// AuditHandler serves the audit trail
type AuditHandler struct {
	trail  AuditTrail
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(trail AuditTrail, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		trail:  trail,
		logger: logger,
	}
}

// HandleListAudit handles GET /api/v1/audit?entity_type=&entity_id=&actor_id=&limit=
func (h *AuditHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, h.trail.List(filter))
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		ActorID: q.Get("actor_id"),
		Limit:   defaultAuditLimit,
	}

	switch t := models.EntityType(q.Get("entity_type")); t {
	case "":
	case models.EntityTypeRole, models.EntityTypeUser:
		filter.EntityType = t
	default:
		return filter, utils.NewFieldError("entity_type", "must be one of: role, user")
	}

	if raw := q.Get("entity_id"); raw != "" {
		id, err := utils.ParseUUID(raw, "entity_id")
		if err != nil {
			return filter, err
		}
		filter.EntityID = &id
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAuditLimit {
			return filter, utils.NewFieldError("limit", "must be between 1 and "+strconv.Itoa(maxAuditLimit))
		}
		filter.Limit = limit
	}

	return filter, nil
}

var _ AuditTrail = (*audit.Trail)(nil)
