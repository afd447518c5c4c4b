// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package httpapi exposes the auth service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/outcome"
	"github.com/authgate/authgate/internal/token"
)

// AuthService is the business API the handlers call.
type AuthService interface {
	Register(ctx context.Context, username, password string) outcome.Outcome[struct{}]
	Login(ctx context.Context, username, password string) outcome.Outcome[auth.TokenPair]
	Refresh(ctx context.Context, refreshToken string) outcome.Outcome[auth.TokenPair]
	RevokeRefreshTokens(ctx context.Context, userID int64) outcome.Outcome[struct{}]
}

// TokenParser verifies access tokens.
type TokenParser interface {
	ParseAccessToken(raw string) (*token.Claims, error)
}

// RequestObserver records served requests.
type RequestObserver interface {
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

// Options configure NewRouter.
type Options struct {
	Service AuthService
	Tokens  TokenParser
	// Observer is optional.
	Observer RequestObserver
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// AllowedOrigins are CORS origin globs. Empty disables CORS headers.
	AllowedOrigins []string
}

type handler struct {
	svc      AuthService
	tokens   TokenParser
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRouter builds the API handler.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Service == nil {
		return nil, oops.Code("HTTP_ROUTER_INVALID").Errorf("auth service is required")
	}
	if opts.Tokens == nil {
		return nil, oops.Code("HTTP_ROUTER_INVALID").Errorf("token parser is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	corsMiddleware, err := newCORS(opts.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	h := &handler{
		svc:      opts.Service,
		tokens:   opts.Tokens,
		logger:   logger,
		validate: validate,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.Observer != nil {
		r.Use(metricsMiddleware(opts.Observer))
	}
	if corsMiddleware != nil {
		r.Use(corsMiddleware)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Delete("/{id}/refresh-tokens", h.revoke)
			r.Get("/test-authentication", h.whoami)
		})
	})

	return otelhttp.NewHandler(r, "authgate.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	), nil
}
