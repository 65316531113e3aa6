package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an audit entry. Redelivered entries are ignored by id.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			id, sequence, timestamp, actor_id, entity_type, entity_id,
			action, before_version, after_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		entry.ID,
		int64(entry.Sequence),
		entry.Timestamp,
		entry.ActorID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.BeforeVersion,
		entry.AfterVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	r.logger.Debug("audit entry inserted",
		zap.String("id", entry.ID.String()),
		zap.String("action", string(entry.Action)))
	return nil
}

// List retrieves audit entries ordered by (timestamp, sequence)
func (r *AuditRepository) List(ctx context.Context, filter repositories.AuditFilter, limit, offset int) ([]*models.AuditEntry, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}

	query := `
		SELECT id, sequence, timestamp, actor_id, entity_type, entity_id,
		       action, before_version, after_version
		FROM audit_log`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf("\n\t\tORDER BY timestamp, sequence\n\t\tLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var sequence int64
		if err := rows.Scan(
			&entry.ID,
			&sequence,
			&entry.Timestamp,
			&entry.ActorID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Action,
			&entry.BeforeVersion,
			&entry.AfterVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Sequence = uint64(sequence)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
