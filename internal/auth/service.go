// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authgate/authgate/internal/outcome"
	"github.com/authgate/authgate/pkg/errutil"
)

var tracer = otel.Tracer("authgate/auth")

// Operation names used in spans, logs and metrics.
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpRefresh  = "refresh"
	OpRevoke   = "revoke"
)

// Outcome messages returned to callers.
const (
	MsgUsernameTaken       = "Username already exists"
	MsgUserNotFound        = "User not found"
	MsgInvalidCredentials  = "Invalid username or password"
	MsgInvalidRefreshToken = "Invalid or expired refresh token"
)

// TokenIssuer mints access and refresh tokens.
type TokenIssuer interface {
	IssueAccessToken(userID int64, username string) (string, time.Time, error)
	IssueRefreshToken() (string, time.Time, error)
}

// OutcomeRecorder observes the outcome of every service call.
type OutcomeRecorder interface {
	RecordAuthOutcome(operation, kind string)
}

// TokenPair is the credential pair returned by Login and Refresh.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"-"`
	RefreshTokenExpiresAt time.Time `json:"-"`
}

// Service provides the authentication operations.
type Service struct {
	users    UserRepository
	tokens   RefreshTokenRepository
	hasher   PasswordHasher
	issuer   TokenIssuer
	logger   *slog.Logger
	recorder OutcomeRecorder
	now      func() time.Time

	unifyLoginFailures bool
	timingHash         string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger. Nil is ignored.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithUnifiedLoginFailures makes Login report an unknown username as
// InvalidCredentials instead of NotFound.
func WithUnifiedLoginFailures(enabled bool) ServiceOption {
	return func(s *Service) {
		s.unifyLoginFailures = enabled
	}
}

// NewService creates a Service. All repositories, the hasher and the issuer
// are required.
func NewService(users UserRepository, tokens RefreshTokenRepository, hasher PasswordHasher, issuer TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("refresh token repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token issuer is required")
	}

	s := &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		issuer: issuer,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timingHash = timingHash(hasher)
	return s, nil
}

// Register creates a user. A taken username yields Conflict, whether it is
// caught by the pre-check or by the store's uniqueness constraint.
func (s *Service) Register(ctx context.Context, username, password string) outcome.Outcome[struct{}] {
	ctx, span := tracer.Start(ctx, "auth.Register")

	exists, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return finish(ctx, s, span, OpRegister, outcome.Errored[struct{}](
			oops.Code("AUTH_REGISTER_FAILED").With("operation", "check username").Wrap(err)))
	}
	if exists {
		return finish(ctx, s, span, OpRegister, outcome.Fail[struct{}](outcome.Conflict, MsgUsernameTaken))
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return finish(ctx, s, span, OpRegister, outcome.Errored[struct{}](
			oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)))
	}

	user, err := NewUser(username, hash)
	if err != nil {
		return finish(ctx, s, span, OpRegister, outcome.Errored[struct{}](err))
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return finish(ctx, s, span, OpRegister, outcome.Fail[struct{}](outcome.Conflict, MsgUsernameTaken))
		}
		return finish(ctx, s, span, OpRegister, outcome.Errored[struct{}](
			oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)))
	}

	span.SetAttributes(attribute.Int64("auth.user_id", user.ID))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return finish(ctx, s, span, OpRegister, outcome.Done())
}

// Login verifies credentials and issues a token pair. The password is always
// verified, against a dummy hash when the user does not exist, so response
// time does not depend on whether the username is known.
func (s *Service) Login(ctx context.Context, username, password string) outcome.Outcome[TokenPair] {
	ctx, span := tracer.Start(ctx, "auth.Login")

	user, lookupErr := s.users.GetByUsername(ctx, username)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return finish(ctx, s, span, OpLogin, outcome.Errored[TokenPair](
			oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by username").Wrap(lookupErr)))
	}
	userExists := lookupErr == nil

	targetHash := s.timingHash
	if userExists {
		targetHash = user.PasswordHash
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		return finish(ctx, s, span, OpLogin, outcome.Errored[TokenPair](
			oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "verify password").
				With("user_id", user.ID).
				Wrap(verifyErr)))
	}

	if !userExists {
		s.logger.DebugContext(ctx, "login rejected", "reason", "unknown username")
		if s.unifyLoginFailures {
			return finish(ctx, s, span, OpLogin, outcome.Fail[TokenPair](outcome.InvalidCredentials, MsgInvalidCredentials))
		}
		return finish(ctx, s, span, OpLogin, outcome.Fail[TokenPair](outcome.NotFound, MsgUserNotFound))
	}
	if !valid {
		s.logger.DebugContext(ctx, "login rejected", "reason", "password mismatch", "user_id", user.ID)
		return finish(ctx, s, span, OpLogin, outcome.Fail[TokenPair](outcome.InvalidCredentials, MsgInvalidCredentials))
	}

	span.SetAttributes(attribute.Int64("auth.user_id", user.ID))
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return finish(ctx, s, span, OpLogin, outcome.Errored[TokenPair](
			oops.Code("AUTH_LOGIN_FAILED").With("user_id", user.ID).Wrap(err)))
	}
	return finish(ctx, s, span, OpLogin, outcome.Ok(pair))
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair is issued for its owner. A token that is unknown, already
// consumed, revoked or expired yields InvalidCredentials.
func (s *Service) Refresh(ctx context.Context, refreshToken string) outcome.Outcome[TokenPair] {
	ctx, span := tracer.Start(ctx, "auth.Refresh")

	if refreshToken == "" {
		return finish(ctx, s, span, OpRefresh, outcome.Fail[TokenPair](outcome.InvalidCredentials, MsgInvalidRefreshToken))
	}

	consumed, err := s.tokens.Consume(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "refresh rejected", "reason", "unknown or consumed token")
			return finish(ctx, s, span, OpRefresh, outcome.Fail[TokenPair](outcome.InvalidCredentials, MsgInvalidRefreshToken))
		}
		return finish(ctx, s, span, OpRefresh, outcome.Errored[TokenPair](
			oops.Code("AUTH_REFRESH_FAILED").With("operation", "consume refresh token").Wrap(err)))
	}
	span.SetAttributes(attribute.Int64("auth.user_id", consumed.UserID))

	if consumed.IsExpiredAt(s.now()) {
		s.logger.DebugContext(ctx, "refresh rejected", "reason", "expired token", "user_id", consumed.UserID)
		return finish(ctx, s, span, OpRefresh, outcome.Fail[TokenPair](outcome.InvalidCredentials, MsgInvalidRefreshToken))
	}

	user, err := s.users.GetByID(ctx, consumed.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "refresh rejected", "reason", "user no longer exists", "user_id", consumed.UserID)
			return finish(ctx, s, span, OpRefresh, outcome.Fail[TokenPair](outcome.InvalidCredentials, MsgInvalidRefreshToken))
		}
		return finish(ctx, s, span, OpRefresh, outcome.Errored[TokenPair](
			oops.Code("AUTH_REFRESH_FAILED").
				With("operation", "get user by id").
				With("user_id", consumed.UserID).
				Wrap(err)))
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return finish(ctx, s, span, OpRefresh, outcome.Errored[TokenPair](
			oops.Code("AUTH_REFRESH_FAILED").With("user_id", user.ID).Wrap(err)))
	}
	return finish(ctx, s, span, OpRefresh, outcome.Ok(pair))
}

// RevokeRefreshTokens deletes every refresh token of the user. It succeeds
// when the user has no tokens.
func (s *Service) RevokeRefreshTokens(ctx context.Context, userID int64) outcome.Outcome[struct{}] {
	ctx, span := tracer.Start(ctx, "auth.RevokeRefreshTokens",
		trace.WithAttributes(attribute.Int64("auth.user_id", userID)))

	if err := s.tokens.DeleteByUser(ctx, userID); err != nil {
		return finish(ctx, s, span, OpRevoke, outcome.Errored[struct{}](
			oops.Code("AUTH_REVOKE_FAILED").With("user_id", userID).Wrap(err)))
	}

	s.logger.InfoContext(ctx, "refresh tokens revoked", "user_id", userID)
	return finish(ctx, s, span, OpRevoke, outcome.Done())
}

// issuePair mints an access token and a refresh token and persists the
// refresh token.
func (s *Service) issuePair(ctx context.Context, user *User) (TokenPair, error) {
	access, accessExp, err := s.issuer.IssueAccessToken(user.ID, user.Username)
	if err != nil {
		return TokenPair{}, oops.With("operation", "issue access token").Wrap(err)
	}

	value, refreshExp, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return TokenPair{}, oops.With("operation", "issue refresh token").Wrap(err)
	}

	record, err := NewRefreshToken(user.ID, value, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return TokenPair{}, oops.With("operation", "persist refresh token").Wrap(err)
	}

	return TokenPair{
		AccessToken:           access,
		RefreshToken:          value,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// finish records the outcome on the span, the metrics recorder and, for
// errors, the log, then ends the span.
func finish[T any](ctx context.Context, s *Service, span trace.Span, op string, o outcome.Outcome[T]) outcome.Outcome[T] {
	defer span.End()

	kind := o.Kind.String()
	span.SetAttributes(attribute.String("auth.outcome", kind))
	if s.recorder != nil {
		s.recorder.RecordAuthOutcome(op, kind)
	}
	if o.Kind == outcome.Error {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, op+" failed")
		errutil.LogError(ctx, s.logger, op+" failed", o.Err)
	}
	return o
}
