package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/repositories"
	"go.uber.org/zap"
)

// RoleRepository implements the repositories.RoleRepository interface
type RoleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB, logger *zap.Logger) repositories.RoleRepository {
	return &RoleRepository{
		db:     db,
		logger: logger,
	}
}

const roleColumns = `id, name, description, grants, version, created_at, updated_at`

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	grants, err := json.Marshal(role.Grants)
	if err != nil {
		return fmt.Errorf("failed to encode grants: %w", err)
	}

	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		grants,
		role.Version,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", mapError(err))
	}

	r.logger.Debug("role created", zap.String("id", role.ID.String()), zap.String("name", role.Name))
	return nil
}

// Update overwrites a role guarded by its expected version
func (r *RoleRepository) Update(ctx context.Context, role *models.Role, expectedVersion int64) error {
	grants, err := json.Marshal(role.Grants)
	if err != nil {
		return fmt.Errorf("failed to encode grants: %w", err)
	}

	query := `
		UPDATE roles
		SET name = $2, description = $3, grants = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $7
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		grants,
		role.Version,
		role.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", mapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to update role %s: %w", role.ID, conditionalMiss(ctx, executor, "roles", role.ID))
	}

	r.logger.Debug("role updated", zap.String("id", role.ID.String()), zap.Int64("version", role.Version))
	return nil
}

// Delete deletes a role guarded by its expected version
func (r *RoleRepository) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	query := `DELETE FROM roles WHERE id = $1 AND version = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", mapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete role %s: %w", id, conditionalMiss(ctx, executor, "roles", id))
	}

	r.logger.Debug("role deleted", zap.String("id", id.String()))
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	role, err := scanRole(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("role %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return role, nil
}

// List retrieves all roles in creation order
func (r *RoleRepository) List(ctx context.Context) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY created_at, id`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	return roles, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*models.Role, error) {
	role := &models.Role{}
	var grants []byte

	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&grants,
		&role.Version,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		return nil, err
	}

	raw := map[string][]string{}
	if len(grants) > 0 {
		if err := json.Unmarshal(grants, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode grants for role %s: %w", role.ID, err)
		}
	}
	parsed, err := models.ParseGrants(raw)
	if err != nil {
		return nil, fmt.Errorf("role %s has invalid grants: %w", role.ID, err)
	}
	role.Grants = parsed

	return role, nil
}
