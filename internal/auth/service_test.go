// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/auth/authtest"
	"github.com/authgate/authgate/internal/auth/mocks"
	"github.com/authgate/authgate/internal/outcome"
	"github.com/authgate/authgate/internal/token"
	"github.com/authgate/authgate/pkg/errutil"
)

func newIssuer(t *testing.T, opts ...token.Option) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{
		SecretKey:       "0123456789abcdef0123456789abcdef",
		Issuer:          "authgate-test",
		Audience:        "authgate-clients",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}, opts...)
	require.NoError(t, err)
	return issuer
}

type fixture struct {
	svc    *auth.Service
	users  *authtest.UserRepository
	tokens *authtest.RefreshTokenRepository
	issuer *token.Issuer
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		users:  authtest.NewUserRepository(),
		tokens: authtest.NewRefreshTokenRepository(),
		issuer: newIssuer(t),
	}
	svc, err := auth.NewService(f.users, f.tokens, auth.NewArgon2idHasher(fastParams), f.issuer, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) registerAndLogin(t *testing.T, username, password string) auth.TokenPair {
	t.Helper()
	ctx := context.Background()
	require.Equal(t, outcome.Success, f.svc.Register(ctx, username, password).Kind)
	res := f.svc.Login(ctx, username, password)
	require.Equal(t, outcome.Success, res.Kind)
	return res.Value
}

func TestNewService_NilDependencies(t *testing.T) {
	users := mocks.NewMockUserRepository(t)
	tokens := mocks.NewMockRefreshTokenRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	issuer := mocks.NewMockTokenIssuer(t)

	tests := []struct {
		name        string
		users       auth.UserRepository
		tokens      auth.RefreshTokenRepository
		hasher      auth.PasswordHasher
		issuer      auth.TokenIssuer
		expectError string
	}{
		{"nil users", nil, tokens, hasher, issuer, "users repository is required"},
		{"nil tokens", users, nil, hasher, issuer, "refresh token repository is required"},
		{"nil hasher", users, tokens, nil, issuer, "password hasher is required"},
		{"nil issuer", users, tokens, hasher, nil, "token issuer is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.users, tt.tokens, tt.hasher, tt.issuer)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
			errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds once then conflicts", func(t *testing.T) {
		f := newFixture(t)

		first := f.svc.Register(ctx, "alice", "Secret123!")
		assert.Equal(t, outcome.Success, first.Kind)
		assert.False(t, first.HasValue())

		second := f.svc.Register(ctx, "alice", "another")
		assert.Equal(t, outcome.Conflict, second.Kind)
		assert.Equal(t, auth.MsgUsernameTaken, second.Message)
	})

	t.Run("stores a hash, never the password", func(t *testing.T) {
		f := newFixture(t)
		require.True(t, f.svc.Register(ctx, "bob", "hunter22").OK())

		u, err := f.users.GetByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.NotEqual(t, "hunter22", u.PasswordHash)
		assert.Contains(t, u.PasswordHash, "$argon2id$")
	})

	t.Run("store uniqueness violation maps to conflict", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(users, mocks.NewMockRefreshTokenRepository(t), hasher, mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		users.On("ExistsByUsername", mock.Anything, "carol").Return(false, nil)
		hasher.On("Hash", "pw").Return("$argon2id$hash", nil)
		users.On("Create", mock.Anything, mock.AnythingOfType("*auth.User")).
			Return(oops.Code("USER_DUPLICATE").Wrap(auth.ErrDuplicate))

		res := svc.Register(ctx, "carol", "pw")
		assert.Equal(t, outcome.Conflict, res.Kind)
	})

	t.Run("store failure is an error outcome", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewService(users, mocks.NewMockRefreshTokenRepository(t), mocks.NewMockPasswordHasher(t), mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		users.On("ExistsByUsername", mock.Anything, "dave").Return(false, errors.New("connection refused"))

		res := svc.Register(ctx, "dave", "pw")
		assert.Equal(t, outcome.Error, res.Kind)
		require.Error(t, res.Err)
		errutil.AssertErrorCode(t, res.Err, "AUTH_REGISTER_FAILED")
	})

	t.Run("hash failure is an error outcome", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(users, mocks.NewMockRefreshTokenRepository(t), hasher, mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		users.On("ExistsByUsername", mock.Anything, "erin").Return(false, nil)
		hasher.On("Hash", "").Return("", auth.ErrEmptyPassword)

		res := svc.Register(ctx, "erin", "")
		assert.Equal(t, outcome.Error, res.Kind)
		assert.ErrorIs(t, res.Err, auth.ErrEmptyPassword)
	})
}

func TestService_Register_ConcurrentSameUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	results := make(chan outcome.Kind, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.svc.Register(ctx, "racer", "pw").Kind
		}()
	}
	wg.Wait()
	close(results)

	counts := map[outcome.Kind]int{}
	for k := range results {
		counts[k]++
	}
	assert.Equal(t, 1, counts[outcome.Success])
	assert.Equal(t, n-1, counts[outcome.Conflict])
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials issue a verifiable pair", func(t *testing.T) {
		f := newFixture(t)
		pair := f.registerAndLogin(t, "alice", "Secret123!")

		claims, err := f.issuer.ParseAccessToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)

		u, err := f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		id, err := claims.UserID()
		require.NoError(t, err)
		assert.Equal(t, u.ID, id)

		stored, err := f.tokens.GetByTokenHash(ctx, auth.HashRefreshToken(pair.RefreshToken))
		require.NoError(t, err)
		assert.Equal(t, u.ID, stored.UserID)
		assert.False(t, pair.AccessTokenExpiresAt.IsZero())
		assert.True(t, pair.RefreshTokenExpiresAt.After(pair.AccessTokenExpiresAt))
	})

	t.Run("wrong password is invalid credentials", func(t *testing.T) {
		f := newFixture(t)
		require.True(t, f.svc.Register(ctx, "alice", "Secret123!").OK())

		res := f.svc.Login(ctx, "alice", "wrong")
		assert.Equal(t, outcome.InvalidCredentials, res.Kind)
		assert.False(t, res.HasValue())
		assert.Zero(t, f.tokens.Len())
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		f := newFixture(t)

		res := f.svc.Login(ctx, "ghost", "whatever")
		assert.Equal(t, outcome.NotFound, res.Kind)
		assert.Equal(t, auth.MsgUserNotFound, res.Message)
	})

	t.Run("unknown user is invalid credentials when unified", func(t *testing.T) {
		f := newFixture(t, auth.WithUnifiedLoginFailures(true))

		res := f.svc.Login(ctx, "ghost", "whatever")
		assert.Equal(t, outcome.InvalidCredentials, res.Kind)
		assert.Equal(t, auth.MsgInvalidCredentials, res.Message)
	})

	t.Run("unknown user still runs password verification", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(users, mocks.NewMockRefreshTokenRepository(t), hasher, mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "ghost").Return(nil, oops.Wrap(auth.ErrNotFound))
		hasher.On("Verify", "pw", mock.AnythingOfType("string")).Return(false, nil).Once()

		res := svc.Login(ctx, "ghost", "pw")
		assert.Equal(t, outcome.NotFound, res.Kind)
	})

	t.Run("lookup failure is an error outcome", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewService(users, mocks.NewMockRefreshTokenRepository(t), mocks.NewMockPasswordHasher(t), mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, errors.New("timeout"))

		res := svc.Login(ctx, "alice", "pw")
		assert.Equal(t, outcome.Error, res.Kind)
		errutil.AssertErrorCode(t, res.Err, "AUTH_LOGIN_FAILED")
	})

	t.Run("corrupt stored hash is an error outcome", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(users, mocks.NewMockRefreshTokenRepository(t), hasher, mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(&auth.User{ID: 1, Username: "alice", PasswordHash: "garbage"}, nil)
		hasher.On("Verify", "pw", "garbage").Return(false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format"))

		res := svc.Login(ctx, "alice", "pw")
		assert.Equal(t, outcome.Error, res.Kind)
	})

	t.Run("refresh token persistence failure is an error outcome", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		tokens := mocks.NewMockRefreshTokenRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		issuer := mocks.NewMockTokenIssuer(t)
		svc, err := auth.NewService(users, tokens, hasher, issuer)
		require.NoError(t, err)

		exp := time.Now().Add(time.Hour)
		users.On("GetByUsername", mock.Anything, "alice").Return(&auth.User{ID: 1, Username: "alice", PasswordHash: "h"}, nil)
		hasher.On("Verify", "pw", "h").Return(true, nil)
		issuer.On("IssueAccessToken", int64(1), "alice").Return("access", exp, nil)
		issuer.On("IssueRefreshToken").Return("refresh", exp, nil)
		tokens.On("Create", mock.Anything, mock.MatchedBy(func(rt *auth.RefreshToken) bool {
			return rt.UserID == 1 && rt.TokenHash == auth.HashRefreshToken("refresh")
		})).Return(errors.New("disk full"))

		res := svc.Login(ctx, "alice", "pw")
		assert.Equal(t, outcome.Error, res.Kind)
		assert.False(t, res.HasValue())
	})
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates the token exactly once", func(t *testing.T) {
		f := newFixture(t)
		pair := f.registerAndLogin(t, "alice", "Secret123!")

		first := f.svc.Refresh(ctx, pair.RefreshToken)
		require.Equal(t, outcome.Success, first.Kind)
		assert.NotEqual(t, pair.RefreshToken, first.Value.RefreshToken)

		claims, err := f.issuer.ParseAccessToken(first.Value.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)

		replay := f.svc.Refresh(ctx, pair.RefreshToken)
		assert.Equal(t, outcome.InvalidCredentials, replay.Kind)

		next := f.svc.Refresh(ctx, first.Value.RefreshToken)
		assert.Equal(t, outcome.Success, next.Kind)
	})

	t.Run("unknown token is invalid credentials", func(t *testing.T) {
		f := newFixture(t)
		res := f.svc.Refresh(ctx, "never-issued")
		assert.Equal(t, outcome.InvalidCredentials, res.Kind)
		assert.Equal(t, auth.MsgInvalidRefreshToken, res.Message)
	})

	t.Run("empty token is invalid credentials", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, outcome.InvalidCredentials, f.svc.Refresh(ctx, "").Kind)
	})

	t.Run("expired token is invalid credentials", func(t *testing.T) {
		f := newFixture(t)
		pair := f.registerAndLogin(t, "alice", "Secret123!")
		f.tokens.Expire()

		res := f.svc.Refresh(ctx, pair.RefreshToken)
		assert.Equal(t, outcome.InvalidCredentials, res.Kind)
	})

	t.Run("token of a deleted user is invalid credentials", func(t *testing.T) {
		f := newFixture(t)
		pair := f.registerAndLogin(t, "alice", "Secret123!")
		u, err := f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		f.users.Delete(u.ID)

		res := f.svc.Refresh(ctx, pair.RefreshToken)
		assert.Equal(t, outcome.InvalidCredentials, res.Kind)
	})

	t.Run("consume failure is an error outcome", func(t *testing.T) {
		tokens := mocks.NewMockRefreshTokenRepository(t)
		svc, err := auth.NewService(mocks.NewMockUserRepository(t), tokens, mocks.NewMockPasswordHasher(t), mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		tokens.On("Consume", mock.Anything, auth.HashRefreshToken("tok")).Return(nil, errors.New("connection reset"))

		res := svc.Refresh(ctx, "tok")
		assert.Equal(t, outcome.Error, res.Kind)
		errutil.AssertErrorCode(t, res.Err, "AUTH_REFRESH_FAILED")
	})
}

func TestService_Refresh_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	pair := f.registerAndLogin(t, "alice", "Secret123!")
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make(chan outcome.Kind, n)
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- f.svc.Refresh(ctx, pair.RefreshToken).Kind
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success, invalid := 0, 0
	for k := range results {
		switch k {
		case outcome.Success:
			success++
		case outcome.InvalidCredentials:
			invalid++
		default:
			t.Fatalf("unexpected outcome %s", k)
		}
	}
	assert.Equal(t, 1, success, "exactly one refresh must win")
	assert.Equal(t, n-1, invalid)
	assert.Equal(t, 1, f.tokens.Len(), "only the rotated token should remain")
}

func TestService_RevokeRefreshTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("invalidates every issued token", func(t *testing.T) {
		f := newFixture(t)
		first := f.registerAndLogin(t, "alice", "Secret123!")
		second := f.svc.Login(ctx, "alice", "Secret123!")
		require.True(t, second.OK())
		other := f.registerAndLogin(t, "bob", "hunter22")

		u, err := f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)

		res := f.svc.RevokeRefreshTokens(ctx, u.ID)
		assert.Equal(t, outcome.Success, res.Kind)

		assert.Equal(t, outcome.InvalidCredentials, f.svc.Refresh(ctx, first.RefreshToken).Kind)
		assert.Equal(t, outcome.InvalidCredentials, f.svc.Refresh(ctx, second.Value.RefreshToken).Kind)
		assert.Equal(t, outcome.Success, f.svc.Refresh(ctx, other.RefreshToken).Kind, "other users keep their tokens")
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, outcome.Success, f.svc.RevokeRefreshTokens(ctx, 99).Kind)
		assert.Equal(t, outcome.Success, f.svc.RevokeRefreshTokens(ctx, 99).Kind)
	})

	t.Run("store failure is an error outcome", func(t *testing.T) {
		tokens := mocks.NewMockRefreshTokenRepository(t)
		svc, err := auth.NewService(mocks.NewMockUserRepository(t), tokens, mocks.NewMockPasswordHasher(t), mocks.NewMockTokenIssuer(t))
		require.NoError(t, err)

		tokens.On("DeleteByUser", mock.Anything, int64(3)).Return(errors.New("boom"))

		res := svc.RevokeRefreshTokens(ctx, 3)
		assert.Equal(t, outcome.Error, res.Kind)
		errutil.AssertErrorContext(t, res.Err, "user_id", int64(3))
	})
}

type recordingRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRecorder) RecordAuthOutcome(operation, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, operation+":"+kind)
}

func TestService_RecordsOutcomes(t *testing.T) {
	rec := &recordingRecorder{}
	f := newFixture(t, auth.WithRecorder(rec))
	ctx := context.Background()

	f.svc.Register(ctx, "alice", "Secret123!")
	f.svc.Register(ctx, "alice", "Secret123!")
	f.svc.Login(ctx, "alice", "nope")
	f.svc.Refresh(ctx, "bogus")
	f.svc.RevokeRefreshTokens(ctx, 1)

	assert.Equal(t, []string{
		"register:success",
		"register:conflict",
		"login:invalid_credentials",
		"refresh:invalid_credentials",
		"revoke:success",
	}, rec.calls)
}
