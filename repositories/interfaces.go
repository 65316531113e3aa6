package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/models"
)

var (
	// ErrNotFound is returned when no row matches the given key
	ErrNotFound = errors.New("record not found")

	// ErrStaleVersion is returned when a conditional write finds a different version
	ErrStaleVersion = errors.New("stale version")

	// ErrDuplicateKey is returned when a write violates a unique constraint
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrForeignKey is returned when a write breaks a reference between tables
	ErrForeignKey = errors.New("foreign key violation")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns a context carrying the transaction
	Context() context.Context
}

// RoleRepository handles role data operations
type RoleRepository interface {
	// Create inserts a new role
	Create(ctx context.Context, role *models.Role) error

	// Update overwrites a role when its stored version equals expectedVersion
	Update(ctx context.Context, role *models.Role, expectedVersion int64) error

	// Delete removes a role when its stored version equals expectedVersion
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error

	// GetByID retrieves a role by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error)

	// List retrieves all roles in creation order
	List(ctx context.Context) ([]*models.Role, error)
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create inserts a new user
	Create(ctx context.Context, user *models.User) error

	// Update overwrites a user when its stored version equals expectedVersion
	Update(ctx context.Context, user *models.User, expectedVersion int64) error

	// TouchAuthenticated moves last_authenticated_at forward without changing the version
	TouchAuthenticated(ctx context.Context, id uuid.UUID, at time.Time, expectedVersion int64) error

	// Delete removes a user when its stored version equals expectedVersion
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// List retrieves all users in creation order
	List(ctx context.Context) ([]*models.User, error)
}

// AuditFilter narrows audit log queries. Zero values match everything.
type AuditFilter struct {
	EntityType models.EntityType
	EntityID   *uuid.UUID
	ActorID    string
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert appends an audit entry; inserting an entry twice is a no-op
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// List retrieves audit entries ordered by (timestamp, sequence) with pagination
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*models.AuditEntry, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Roles     RoleRepository
	Users     UserRepository
	AuditLogs AuditRepository
}
