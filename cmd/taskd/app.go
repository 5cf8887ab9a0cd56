// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/auth/memstore"
	"github.com/holomush/taskd/internal/auth/postgres"
	"github.com/holomush/taskd/internal/config"
	"github.com/holomush/taskd/internal/logging"
	"github.com/holomush/taskd/internal/observability"
	"github.com/holomush/taskd/internal/store"
	"github.com/holomush/taskd/internal/xdg"
)

// serviceName is stamped on every log record.
const serviceName = "taskd"

// backend holds the repositories of the configured store.
type backend struct {
	users    auth.UserRepository
	sessions auth.SessionRepository
	resets   auth.ResetRepository
	ready    observability.ReadinessChecker
	close    func()
}

// connectFunc opens a database pool. Tests replace it.
type connectFunc func(ctx context.Context, databaseURL string, opts store.ConnectOptions) (*pgxpool.Pool, error)

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, connect connectFunc) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		logger.WarnContext(ctx, "using in-memory store; all accounts are lost on exit")
		m := memstore.New()
		return &backend{
			users:    m.Users,
			sessions: m.Sessions,
			resets:   m.Resets,
			ready:    func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	}

	if connect == nil {
		connect = store.Connect
	}
	pool, err := connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Retries: cfg.Database.ConnectRetries,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return &backend{
		users:    postgres.NewUserRepository(pool),
		sessions: postgres.NewSessionRepository(pool),
		resets:   postgres.NewResetRepository(pool),
		ready:    pool.Ping,
		close:    pool.Close,
	}, nil
}

func newService(cfg *config.Config, b *backend, logger *slog.Logger, recorder auth.EventRecorder) (*auth.CredentialService, error) {
	sessions, err := auth.NewSessionStore(b.sessions, cfg.Auth.SessionTTL)
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithResetTTL(cfg.Auth.ResetTTL),
	}
	if recorder != nil {
		opts = append(opts, auth.WithRecorder(recorder))
	}
	return auth.NewCredentialService(auth.Deps{
		Users:    b.users,
		Sessions: sessions,
		Resets:   b.resets,
		Hasher:   auth.NewSaltedSHA256Hasher(),
		Tokens:   codec,
	}, opts...)
}

// loadConfig reads the layered configuration and installs the default
// logger it describes.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, *slog.Logger, error) {
	load := config.Read
	if validate {
		load = config.Load
	}
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigFile()
	}
	cfg, err := load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, oops.With("key", "log.level").Wrap(err)
	}
	return cfg, logging.SetDefault(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr()), nil
}

// requirePostgres rejects maintenance commands against the memory store.
func requirePostgres(cfg *config.Config, command string) error {
	if cfg.Store != config.StorePostgres {
		return oops.Code("CONFIG_INVALID").
			With("command", command).
			Errorf("%s requires the postgres store", command)
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database.url is required")
	}
	return nil
}
