package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType identifies which table an audit entry refers to
type EntityType string

const (
	EntityTypeRole EntityType = "role"
	EntityTypeUser EntityType = "user"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionCreated       AuditAction = "created"
	AuditActionUpdated       AuditAction = "updated"
	AuditActionDeleted       AuditAction = "deleted"
	AuditActionActivated     AuditAction = "activated"
	AuditActionDeactivated   AuditAction = "deactivated"
	AuditActionAuthenticated AuditAction = "authenticated"
)

// ActorSystem is the actor recorded for mutations not driven by a principal
const ActorSystem = "system"

// AuditEntry records one committed mutation. Entries are never modified after append.
type AuditEntry struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Sequence      uint64      `json:"sequence" db:"sequence"`
	Timestamp     time.Time   `json:"timestamp" db:"timestamp"`
	ActorID       string      `json:"actor_id" db:"actor_id"`
	EntityType    EntityType  `json:"entity_type" db:"entity_type"`
	EntityID      uuid.UUID   `json:"entity_id" db:"entity_id"`
	Action        AuditAction `json:"action" db:"action"`
	BeforeVersion int64       `json:"before_version" db:"before_version"` // 0 on create
	AfterVersion  int64       `json:"after_version" db:"after_version"`   // 0 on delete
}

// TableName returns the table name for the AuditEntry model
func (AuditEntry) TableName() string {
	return "audit_log"
}

// NewAuditEntry creates a new AuditEntry. Sequence is assigned on commit.
func NewAuditEntry(actorID string, entityType EntityType, entityID uuid.UUID, action AuditAction, before, after int64) *AuditEntry {
	return &AuditEntry{
		ID:            uuid.New(),
		Timestamp:     time.Now().UTC(),
		ActorID:       actorID,
		EntityType:    entityType,
		EntityID:      entityID,
		Action:        action,
		BeforeVersion: before,
		AfterVersion:  after,
	}
}
