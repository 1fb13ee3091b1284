// Command inkwell-admin runs one-off maintenance and operator tasks against
// the inkwell database: migrations, manual dispatch and drain, stale job
// recovery, job statistics and preference management.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/bootstrap"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
)

// preferencesWriter stores a user's preferences.
type preferencesWriter interface {
	Upsert(ctx context.Context, req data.UpsertPreferencesRequest) (*model.Preferences, error)
}

// adminApp is the wired runtime a command operates on.
type adminApp struct {
	Config      *config.AppConfig
	Services    *bootstrap.ServiceContainer
	Preferences preferencesWriter
	DB          *sql.DB
	Close       func() error
}

// loaders builds the runtime lazily so that commands such as "migrate files"
// run without a database.
type loaders struct {
	App func(ctx context.Context) (*adminApp, error)
	DB  func(ctx context.Context) (*sql.DB, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := bootstrap.InitLogger(slog.LevelWarn)
	root := newRootCmd(productionLoaders(logger))
	if err := root.ExecuteContext(ctx); err != nil {
		logger.ErrorContext(ctx, "command failed", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must signal failure to shell scripts
	}
}

func productionLoaders(logger *slog.Logger) loaders {
	connectDB := func(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error) {
		return bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	}
	return loaders{
		DB: func(ctx context.Context) (*sql.DB, error) {
			cfg, err := bootstrap.LoadConfig()
			if err != nil {
				return nil, err
			}
			return connectDB(ctx, &cfg)
		},
		App: func(ctx context.Context) (*adminApp, error) {
			cfg, err := bootstrap.LoadConfig()
			if err != nil {
				return nil, err
			}
			db, err := connectDB(ctx, &cfg)
			if err != nil {
				return nil, err
			}
			redisClient, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
			if err != nil {
				return nil, errors.Join(err, db.Close())
			}
			services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
				Config:      &cfg,
				DB:          db,
				RedisClient: redisClient,
				Logger:      logger,
			})
			if err != nil {
				return nil, errors.Join(err, closeInfra(db, redisClient))
			}
			return &adminApp{
				Config:      &cfg,
				Services:    services,
				Preferences: data.NewPreferencesRepo(db),
				DB:          db,
				Close:       func() error { return closeInfra(db, redisClient) },
			}, nil
		},
	}
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

func newRootCmd(l loaders) *cobra.Command {
	root := &cobra.Command{
		Use:           "inkwell-admin",
		Short:         "Operator tasks for the inkwell newsletter service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(l),
		newDispatchCmd(l),
		newTickCmd(l),
		newReapCmd(l),
		newStatsCmd(l),
		newJobCmd(l),
		newPreferencesCmd(l),
		newFirstIssueCmd(l),
	)
	return root
}

// withApp loads the runtime, runs fn and closes the runtime.
func withApp(cmd *cobra.Command, l loaders, fn func(ctx context.Context, app *adminApp) error) (err error) {
	ctx := cmd.Context()
	app, err := l.App(ctx)
	if err != nil {
		return err
	}
	if app.Close != nil {
		defer func() { err = errors.Join(err, app.Close()) }()
	}
	return fn(ctx, app)
}
