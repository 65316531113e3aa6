// Package coordinator serializes every write to roles and users.
//
// A mutation names the ownership keys it needs and prepares its change
// against the latest snapshot while holding them. The change is persisted
// through an optional Journal, then the next snapshot is published and an
// audit entry appended before the keys are released.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/internal/keylock"
	"github.com/upb/access-control-plane/internal/observability"
	"github.com/upb/access-control-plane/internal/state"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services"
	"github.com/upb/access-control-plane/services/audit"
	"go.uber.org/zap"
)

// DefaultLockTimeout bounds ownership waits when the caller sets no deadline
const DefaultLockTimeout = 5 * time.Second

// Change is the outcome of a prepared mutation
type Change struct {
	EntityType    models.EntityType
	EntityID      uuid.UUID
	Action        models.AuditAction
	BeforeVersion int64 // 0 on create
	AfterVersion  int64 // 0 on delete

	// Role or User holds the new record; both are nil on delete
	Role   *models.Role
	User   *models.User
	Delete bool
}

// Mutation describes one write
type Mutation struct {
	Entity models.EntityType
	Action models.AuditAction // label used when the mutation fails before producing a Change
	Keys   []string

	// Prepare validates the write against snap and returns the change to commit.
	// A nil change with a nil error commits nothing.
	Prepare func(snap *state.Snapshot, now time.Time) (*Change, error)
}

// Journal persists a change before it becomes visible
type Journal interface {
	Persist(ctx context.Context, change *Change) error
}

// Publisher forwards committed audit entries to external sinks without blocking
type Publisher interface {
	Publish(entry *models.AuditEntry) bool
}

// Options holds the optional collaborators of a Coordinator
type Options struct {
	Journal     Journal
	Publisher   Publisher
	Metrics     *observability.Metrics
	LockTimeout time.Duration
	Clock       func() time.Time
}

// Coordinator is the only writer of the snapshot store
type Coordinator struct {
	store   *state.Store
	trail   *audit.Trail
	locks   *keylock.Locker
	logger  *zap.Logger
	journal Journal
	pub     Publisher
	metrics *observability.Metrics
	timeout time.Duration
	now     func() time.Time

	commitMu sync.Mutex
}

// New creates a new Coordinator
func New(store *state.Store, trail *audit.Trail, logger *zap.Logger, opts Options) *Coordinator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		store:   store,
		trail:   trail,
		locks:   keylock.New(),
		logger:  logger,
		journal: opts.Journal,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		timeout: opts.LockTimeout,
		now:     opts.Clock,
	}
}

// Snapshot returns the latest committed state
func (c *Coordinator) Snapshot() *state.Snapshot {
	return c.store.Load()
}

// Trail returns the in-process audit trail
func (c *Coordinator) Trail() *audit.Trail {
	return c.trail
}

// Execute runs m while owning all of its keys.
// Waiting for ownership is bounded by ctx, or by the lock timeout when ctx has
// no deadline; running out of time yields a timeout error and changes nothing.
func (c *Coordinator) Execute(ctx context.Context, actor string, m Mutation) (*Change, error) {
	lockCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	waitStart := time.Now()
	release, err := c.locks.Acquire(lockCtx, m.Keys...)
	c.metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		c.metrics.RecordMutation(string(m.Entity), string(m.Action), string(services.ErrorTypeTimeout))
		c.logger.Warn("mutation timed out waiting for ownership",
			zap.String("entity", string(m.Entity)),
			zap.String("action", string(m.Action)),
			zap.Strings("keys", m.Keys),
			zap.Error(err))
		return nil, services.WrapContextError(err)
	}
	defer release()

	now := c.now()
	change, err := m.Prepare(c.store.Load(), now)
	if err != nil {
		c.fail(m, err)
		return nil, err
	}
	if change == nil {
		return nil, nil
	}

	if c.journal != nil {
		if err := c.journal.Persist(ctx, change); err != nil {
			mapped := mapPersistError(change, err)
			c.fail(m, mapped)
			return nil, mapped
		}
	}

	entry := c.commit(actor, change, now)
	if c.pub != nil {
		c.pub.Publish(entry)
	}

	c.metrics.RecordMutation(string(change.EntityType), string(change.Action), "ok")
	c.logger.Debug("mutation committed",
		zap.String("actor", actor),
		zap.String("entity", string(change.EntityType)),
		zap.String("entity_id", change.EntityID.String()),
		zap.String("action", string(change.Action)),
		zap.Int64("before_version", change.BeforeVersion),
		zap.Int64("after_version", change.AfterVersion),
		zap.Uint64("sequence", entry.Sequence))

	return change, nil
}

// commit applies change to the latest snapshot. Concurrent commits only touch
// disjoint keys, so applying onto whatever is current loses nothing.
func (c *Coordinator) commit(actor string, change *Change, now time.Time) *models.AuditEntry {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	d := c.store.Load().Edit()
	switch change.EntityType {
	case models.EntityTypeRole:
		if change.Delete {
			d.DeleteRole(change.EntityID)
		} else {
			d.PutRole(change.Role)
		}
	case models.EntityTypeUser:
		if change.Delete {
			d.DeleteUser(change.EntityID)
		} else {
			d.PutUser(change.User)
		}
	}
	c.store.Publish(d.Commit())

	entry := models.NewAuditEntry(actor, change.EntityType, change.EntityID, change.Action, change.BeforeVersion, change.AfterVersion)
	entry.Timestamp = now.UTC()
	return c.trail.Append(entry)
}

func (c *Coordinator) fail(m Mutation, err error) {
	outcome := string(services.GetErrorType(err))
	if outcome == "" {
		outcome = string(services.ErrorTypeInternal)
	}
	c.metrics.RecordMutation(string(m.Entity), string(m.Action), outcome)

	if services.IsInternalError(err) || services.GetErrorType(err) == "" {
		c.logger.Error("mutation failed",
			zap.String("entity", string(m.Entity)),
			zap.String("action", string(m.Action)),
			zap.Error(err))
		return
	}
	if services.IsVersionConflictError(err) {
		c.logger.Warn("mutation rejected on version conflict",
			zap.String("entity", string(m.Entity)),
			zap.String("action", string(m.Action)),
			zap.Error(err))
	}
}

// Ownership keys

// RoleKey owns a role record
func RoleKey(id uuid.UUID) string { return "role:" + id.String() }

// UserKey owns a user record
func UserKey(id uuid.UUID) string { return "user:" + id.String() }

// RoleNameKey owns a case-folded role name
func RoleNameKey(name string) string { return "role-name:" + models.FoldName(name) }

// UserEmailKey owns a case-folded email address
func UserEmailKey(email string) string { return "user-email:" + models.FoldName(email) }
