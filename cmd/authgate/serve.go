// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/auth/postgres"
	authredis "github.com/authgate/authgate/internal/auth/redis"
	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/httpapi"
	"github.com/authgate/authgate/internal/logging"
	"github.com/authgate/authgate/internal/store"
	"github.com/authgate/authgate/internal/token"
	"github.com/authgate/authgate/pkg/errutil"
)

const (
	shutdownTimeout  = 10 * time.Second
	readinessTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the authentication HTTP API together with the metrics and
health server. Pending migrations are applied first unless auto-migrate is
disabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{File: configFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg, nil)
		},
	}

	d := config.Defaults()
	cmd.Flags().String("addr", d.HTTP.Addr, "HTTP API listen address")
	cmd.Flags().String("metrics-addr", d.Observability.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", d.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("refresh-store", d.Store.RefreshTokens, "refresh token store (postgres or redis)")
	cmd.Flags().Bool("auto-migrate", d.Store.AutoMigrate, "apply pending migrations on startup")

	return cmd
}

// runServe runs the service until ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "authgate",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})

	logger.Info("starting authgate",
		"addr", cfg.HTTP.Addr,
		"refresh_store", cfg.Store.RefreshTokens,
	)

	if cfg.Store.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("database schema up to date")
	}

	connectOpts := store.DefaultConnectOptions
	connectOpts.MaxConns = cfg.Database.MaxConns
	db, err := deps.Connect(ctx, cfg.Database.URL, connectOpts)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	checks := []*store.ReadinessCheck{store.NewReadinessCheck(db, readinessTimeout)}

	var tokens auth.RefreshTokenRepository
	switch cfg.Store.RefreshTokens {
	case config.StoreRedis:
		client := deps.NewRedis(cfg.Redis)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Debug("error closing redis client", "error", err)
			}
		}()
		repo := authredis.NewRefreshTokenRepository(client, authredis.WithPrefix(cfg.Redis.Prefix))
		if err := repo.Ping(ctx); err != nil {
			return err
		}
		checks = append(checks, store.NewReadinessCheck(repo, readinessTimeout))
		tokens = repo
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	default:
		tokens = postgres.NewRefreshTokenRepository(db)
	}

	obsServer := deps.NewObservabilityServer(cfg.Observability.Addr, func() bool {
		for _, c := range checks {
			if !c.IsReady() {
				return false
			}
		}
		return true
	})
	metrics := obsServer.Metrics()

	issuer, err := token.NewIssuer(cfg.TokenConfig())
	if err != nil {
		return err
	}

	svc, err := auth.NewService(
		postgres.NewUserRepository(db),
		tokens,
		auth.NewArgon2idHasher(auth.DefaultArgon2Params),
		issuer,
		auth.WithLogger(logger),
		auth.WithRecorder(metrics),
		auth.WithUnifiedLoginFailures(cfg.Auth.UnifyLoginFailures),
	)
	if err != nil {
		return err
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		Service:        svc,
		Tokens:         issuer,
		Observer:       metrics,
		Logger:         logger,
		AllowedOrigins: cfg.HTTP.CORS.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Store.CleanupInterval > 0 {
		janitor := auth.NewJanitor(tokens, cfg.Store.CleanupInterval, logger)
		janitor.OnSweep(metrics.RecordSwept)
		if err := janitor.Start(ctx); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	apiServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiErrs := make(chan error, 1)
	go func() {
		defer close(apiErrs)
		if err := apiServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErrs <- err
		}
	}()
	logger.Info("http api listening", "addr", listener.Addr().String())

	var obsErrs <-chan error
	if cfg.Observability.Addr != "" {
		obsErrs, err = obsServer.Start()
		if err != nil {
			shutdown(logger, apiServer, nil)
			return err
		}
	}

	cmd.Println("authgate started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiErrs:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case err := <-obsErrs:
		runErr = oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
	}
	if runErr != nil {
		errutil.LogError(ctx, logger, "server error, shutting down", runErr)
	}

	shutdown(logger, apiServer, obsServer)
	logger.Info("shutdown complete")
	return runErr
}

func shutdown(logger *slog.Logger, api *http.Server, obs ObservabilityServer) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Shutdown(ctx); err != nil {
		logger.Warn("error stopping http api", "error", err)
	}
	if obs != nil {
		if err := obs.Stop(ctx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
}

func autoMigrate(deps *ServeDeps, url string) error {
	m, err := deps.NewMigrator(url)
	if err != nil {
		return err
	}
	upErr := m.Up()
	if closeErr := m.Close(); closeErr != nil && upErr == nil {
		return closeErr
	}
	return upErr
}
