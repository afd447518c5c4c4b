// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package mocks provides testify mocks of the auth interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/authgate/authgate/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockUserRepository is a mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a MockUserRepository whose expectations are
// asserted on test cleanup.
func NewMockUserRepository(t testingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	ret := m.Called(ctx, user)
	if fn, ok := ret.Get(0).(func(context.Context, *auth.User) error); ok {
		return fn(ctx, user)
	}
	return ret.Error(0)
}

// GetByID provides a mock function.
func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	ret := m.Called(ctx, id)
	var u *auth.User
	if v, ok := ret.Get(0).(*auth.User); ok {
		u = v
	}
	return u, ret.Error(1)
}

// GetByUsername provides a mock function.
func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	ret := m.Called(ctx, username)
	var u *auth.User
	if v, ok := ret.Get(0).(*auth.User); ok {
		u = v
	}
	return u, ret.Error(1)
}

// ExistsByUsername provides a mock function.
func (m *MockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	ret := m.Called(ctx, username)
	return ret.Bool(0), ret.Error(1)
}

// MockRefreshTokenRepository is a mock of auth.RefreshTokenRepository.
type MockRefreshTokenRepository struct {
	mock.Mock
}

// NewMockRefreshTokenRepository creates a MockRefreshTokenRepository whose
// expectations are asserted on test cleanup.
func NewMockRefreshTokenRepository(t testingT) *MockRefreshTokenRepository {
	m := &MockRefreshTokenRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	ret := m.Called(ctx, token)
	return ret.Error(0)
}

// GetByTokenHash provides a mock function.
func (m *MockRefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	ret := m.Called(ctx, tokenHash)
	var rt *auth.RefreshToken
	if v, ok := ret.Get(0).(*auth.RefreshToken); ok {
		rt = v
	}
	return rt, ret.Error(1)
}

// Consume provides a mock function.
func (m *MockRefreshTokenRepository) Consume(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	ret := m.Called(ctx, tokenHash)
	var rt *auth.RefreshToken
	if v, ok := ret.Get(0).(*auth.RefreshToken); ok {
		rt = v
	}
	return rt, ret.Error(1)
}

// DeleteByUser provides a mock function.
func (m *MockRefreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) error {
	ret := m.Called(ctx, userID)
	return ret.Error(0)
}

// DeleteExpired provides a mock function.
func (m *MockRefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ret := m.Called(ctx)
	var n int64
	if v, ok := ret.Get(0).(int64); ok {
		n = v
	}
	return n, ret.Error(1)
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted on test cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify provides a mock function.
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

// MockTokenIssuer is a mock of auth.TokenIssuer.
type MockTokenIssuer struct {
	mock.Mock
}

// NewMockTokenIssuer creates a MockTokenIssuer whose expectations are
// asserted on test cleanup.
func NewMockTokenIssuer(t testingT) *MockTokenIssuer {
	m := &MockTokenIssuer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// IssueAccessToken provides a mock function.
func (m *MockTokenIssuer) IssueAccessToken(userID int64, username string) (string, time.Time, error) {
	ret := m.Called(userID, username)
	var exp time.Time
	if v, ok := ret.Get(1).(time.Time); ok {
		exp = v
	}
	return ret.String(0), exp, ret.Error(2)
}

// IssueRefreshToken provides a mock function.
func (m *MockTokenIssuer) IssueRefreshToken() (string, time.Time, error) {
	ret := m.Called()
	var exp time.Time
	if v, ok := ret.Get(1).(time.Time); ok {
		exp = v
	}
	return ret.String(0), exp, ret.Error(2)
}

var (
	_ auth.UserRepository         = (*MockUserRepository)(nil)
	_ auth.RefreshTokenRepository = (*MockRefreshTokenRepository)(nil)
	_ auth.PasswordHasher         = (*MockPasswordHasher)(nil)
	_ auth.TokenIssuer            = (*MockTokenIssuer)(nil)
)
