package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/upb/access-control-plane/app"
	"github.com/upb/access-control-plane/auth"
	"github.com/upb/access-control-plane/config"
	"github.com/upb/access-control-plane/internal/observability"
	"github.com/upb/access-control-plane/repositories/postgres"
	"github.com/upb/access-control-plane/routes"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "access-control-plane",
		Usage: "Role based access control service",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			tokenCommand(),
			checkCommand(),
		},
	}
}

// loadConfig reads the environment and builds the logger named by it
func loadConfig(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, cli.Exit(err.Error(), 1)
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return nil, nil, cli.Exit(err.Error(), 1)
	}
	return cfg, logger, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(ctx, cfg, logger)
		},
	}
}

// serve runs the API until ctx is cancelled, then drains in-flight requests
// and flushes the audit dispatcher.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error("Failed to close dependencies", zap.Error(err))
		}
	}()

	if err := deps.Start(); err != nil {
		return fmt.Errorf("failed to start audit dispatcher: %w", err)
	}

	if cfg.SeedDemoData {
		if err := app.SeedDemoData(ctx, deps.Roles, deps.Users, logger); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening",
			zap.String("address", srv.Addr),
			zap.String("storage", cfg.Storage.Backend),
			zap.Bool("tls", cfg.Server.TLS.Enabled),
		)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the Postgres schema",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c.Context)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Storage.Backend != config.StoragePostgres {
				return cli.Exit("migrate requires STORAGE_BACKEND=postgres", 1)
			}

			factory, err := postgres.NewRepositoryFactory(cfg, logger)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer factory.Close()

			if err := factory.InitSchema(c.Context); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Fprintln(c.App.Writer, "schema up to date")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user-id",
				Usage:    "`UUID` of the user the token is issued to",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "email",
				Usage: "email claim to embed",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.New(c.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if cfg.Auth.JWTSecret == "" {
				return cli.Exit("AUTH_JWT_SECRET must be set to issue tokens", 1)
			}

			sub, err := uuid.Parse(c.String("user-id"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid user id: %v", err), 1)
			}

			validator, err := auth.NewValidator(auth.Config{
				Secret: cfg.Auth.JWTSecret,
				Issuer: cfg.Auth.JWTIssuer,
				TTL:    cfg.Auth.TokenTTL,
			})
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			token, err := validator.Issue(sub, c.String("email"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Evaluate an access check against the current state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "user `UUID` or email",
				Required: true,
			},
			&cli.StringFlag{Name: "resource", Required: true},
			&cli.StringFlag{Name: "permission", Required: true},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c.Context)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			deps, err := app.NewDependencies(c.Context, cfg, logger)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer deps.Close(context.Background())

			if err := deps.Start(); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if cfg.SeedDemoData {
				if err := app.SeedDemoData(c.Context, deps.Roles, deps.Users, logger); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}

			userID, err := resolveUser(deps, c.String("user"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			decision, err := deps.Engine.Check(userID, c.String("resource"), c.String("permission"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if decision.Allowed {
				fmt.Fprintln(c.App.Writer, decision.Outcome())
				return nil
			}
			fmt.Fprintf(c.App.Writer, "%s: %s\n", decision.Outcome(), decision.Reason)
			return cli.Exit("", 2)
		},
	}
}

// resolveUser accepts either a user id or an email known to the snapshot
func resolveUser(deps *app.Dependencies, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	if id, ok := deps.Coordinator.Snapshot().UserIDByEmail(strings.TrimSpace(ref)); ok {
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("no user with email %q", ref)
}
