package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/repositories"
	"go.uber.org/zap"
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, name, email, active, role_id, last_authenticated_at, version, created_at, updated_at`

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Active,
		user.RoleID,
		nullTime(user.LastAuthenticatedAt),
		user.Version,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}

	r.logger.Debug("user created", zap.String("id", user.ID.String()), zap.String("email", user.Email))
	return nil
}

// Update overwrites a user guarded by its expected version
func (r *UserRepository) Update(ctx context.Context, user *models.User, expectedVersion int64) error {
	query := `
		UPDATE users
		SET name = $2, email = $3, active = $4, role_id = $5, version = $6, updated_at = $7
		WHERE id = $1 AND version = $8
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Active,
		user.RoleID,
		user.Version,
		user.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}

	return r.checkAffected(ctx, executor, result, user.ID, "update")
}

// TouchAuthenticated moves last_authenticated_at forward; the version is left alone
func (r *UserRepository) TouchAuthenticated(ctx context.Context, id uuid.UUID, at time.Time, expectedVersion int64) error {
	query := `
		UPDATE users
		SET last_authenticated_at = $2
		WHERE id = $1 AND version = $3
		  AND (last_authenticated_at IS NULL OR last_authenticated_at < $2)
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, at, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to record authentication: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// an equal or later timestamp already stored is not an error
		if miss := conditionalMiss(ctx, executor, "users", id); errors.Is(miss, repositories.ErrNotFound) {
			return fmt.Errorf("failed to record authentication for user %s: %w", id, miss)
		}
	}

	return nil
}

// Delete deletes a user guarded by its expected version
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	query := `DELETE FROM users WHERE id = $1 AND version = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return r.checkAffected(ctx, executor, result, id, "delete")
}

func (r *UserRepository) checkAffected(ctx context.Context, executor Executor, result sql.Result, id uuid.UUID, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to %s user %s: %w", op, id, conditionalMiss(ctx, executor, "users", id))
	}

	r.logger.Debug("user "+op+"d", zap.String("id", id.String()))
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	user, err := scanUser(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// List retrieves all users in creation order
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var lastAuth sql.NullTime

	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Active,
		&user.RoleID,
		&lastAuth,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastAuth.Valid {
		t := lastAuth.Time
		user.LastAuthenticatedAt = &t
	}

	return user, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
