package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/upb/access-control-plane/auth"
	"github.com/upb/access-control-plane/config"
	"github.com/upb/access-control-plane/handlers"
	"github.com/upb/access-control-plane/internal/observability"
	"github.com/upb/access-control-plane/internal/state"
	"github.com/upb/access-control-plane/middleware"
	"github.com/upb/access-control-plane/repositories"
	"github.com/upb/access-control-plane/repositories/postgres"
	"github.com/upb/access-control-plane/services/access"
	"github.com/upb/access-control-plane/services/audit"
	"github.com/upb/access-control-plane/services/coordinator"
	"github.com/upb/access-control-plane/services/roles"
	"github.com/upb/access-control-plane/services/users"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Persistence (nil with the memory backend)
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	Repos       *repositories.Repositories
	auditDB     *postgres.DB // audit-only pool when storage is in memory

	// Audit
	Redis      *redis.Client
	Trail      *audit.Trail
	Dispatcher *audit.Dispatcher

	// Core
	Store       *state.Store
	Coordinator *coordinator.Coordinator
	Roles       *roles.RoleService
	Users       *users.UserService
	Engine      *access.Engine

	// Auth
	TokenValidator       *auth.Validator
	AuthMiddleware       *middleware.AuthMiddleware
	PermissionMiddleware *middleware.PermissionMiddleware

	ReadinessChecks map[string]handlers.ReadinessCheck

	started bool
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:          cfg,
		Logger:          logger,
		ReadinessChecks: make(map[string]handlers.ReadinessCheck),
	}

	deps.initMetrics()

	if err := deps.initStorage(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initAudit(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := deps.initCore(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage.Backend),
		zap.Strings("audit_sinks", cfg.Audit.Sinks))
	return deps, nil
}

func (d *Dependencies) initMetrics() {
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(d.Registry)
}

// initStorage opens PostgreSQL when it backs roles and users
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend != config.StoragePostgres {
		d.Logger.Info("using in-memory storage")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Repos = factory.NewRepositories()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.ReadinessChecks["database"] = handlers.DatabaseCheck(d.DB.DB)
	return nil
}

// initAudit builds the configured sinks and the dispatcher feeding them
func (d *Dependencies) initAudit(ctx context.Context, cfg *config.Config) error {
	d.Trail = audit.NewTrail()

	var sinks []audit.Sink
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, audit.NewLogSink(d.Logger))

		case config.SinkRedis:
			d.Redis = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			sinks = append(sinks, audit.NewRedisStreamSink(d.Redis, cfg.Redis.Stream))
			d.ReadinessChecks["redis"] = handlers.RedisCheck(d.Redis)

		case config.SinkPostgres:
			repo, err := d.auditRepository(cfg)
			if err != nil {
				return err
			}
			sinks = append(sinks, audit.NewRepositorySink(repo))

			// continue numbering after what earlier processes persisted
			restored, err := audit.LoadHistory(ctx, repo, d.Trail)
			if err != nil {
				return err
			}
			d.Logger.Info("audit history loaded", zap.Int("entries", restored))
		}
	}

	d.Dispatcher = audit.NewDispatcher(sinks, d.Logger, d.Metrics, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
		MaxAttempts: cfg.Audit.MaxAttempts,
		RetryDelay:  cfg.Audit.RetryDelay,
	})
	d.ReadinessChecks["audit_dispatcher"] = handlers.DispatcherCheck(d.Dispatcher)
	return nil
}

func (d *Dependencies) auditRepository(cfg *config.Config) (repositories.AuditRepository, error) {
	if d.Repos != nil {
		return d.Repos.AuditLogs, nil
	}

	db, err := postgres.NewDB(*cfg.AuditDatabase, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	d.auditDB = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.InitAuditSchema(ctx); err != nil {
		return nil, err
	}

	d.ReadinessChecks["audit_database"] = handlers.DatabaseCheck(db.DB)
	return postgres.NewAuditRepository(db, d.Logger), nil
}

// initCore loads the initial snapshot and builds the coordinator and services
func (d *Dependencies) initCore(ctx context.Context, cfg *config.Config) error {
	initial := state.Empty()
	opts := coordinator.Options{
		Publisher:   d.Dispatcher,
		Metrics:     d.Metrics,
		LockTimeout: cfg.Coordinator.LockTimeout,
	}

	if d.Repos != nil {
		snap, err := LoadSnapshot(ctx, d.Repos)
		if err != nil {
			return err
		}
		initial = snap
		opts.Journal = coordinator.NewRepositoryJournal(d.Repos, d.RepoFactory.GetTransactionManager())
	}

	d.Store = state.NewStore(initial)
	d.Coordinator = coordinator.New(d.Store, d.Trail, d.Logger, opts)
	d.Roles = roles.NewRoleService(d.Coordinator, d.Logger)
	d.Users = users.NewUserService(d.Coordinator, d.Logger)
	d.Engine = access.NewEngine(d.Coordinator, d.Metrics, d.Logger)

	d.Logger.Info("access state loaded",
		zap.Int("roles", initial.RoleCount()),
		zap.Int("users", initial.UserCount()))
	return nil
}

// LoadSnapshot reads every role and user into a snapshot
func LoadSnapshot(ctx context.Context, repos *repositories.Repositories) (*state.Snapshot, error) {
	roleList, err := repos.Roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	userList, err := repos.Users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	snap, err := state.NewSnapshot(roleList, userList)
	if err != nil {
		return nil, fmt.Errorf("stored state is inconsistent: %w", err)
	}
	return snap, nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// production refuses to start without a secret (see config.Validate)
		generated, err := randomSecret()
		if err != nil {
			return err
		}
		secret = generated
		d.Logger.Warn("AUTH_JWT_SECRET not set, using an ephemeral signing secret; tokens will not survive a restart")
	}

	validator, err := auth.NewValidator(auth.Config{
		Secret: secret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}

	d.TokenValidator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Users, d.Logger)
	d.PermissionMiddleware = middleware.NewPermissionMiddleware(d.Engine, d.Logger)
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Start starts the background audit delivery
func (d *Dependencies) Start() error {
	if err := d.Dispatcher.Start(); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain queued audit entries before closing the sinks they write to
	if d.Dispatcher != nil && d.started {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Dispatcher.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit dispatcher: %w", err))
		}
		d.started = false
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.auditDB != nil {
		if err := d.auditDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit database: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
