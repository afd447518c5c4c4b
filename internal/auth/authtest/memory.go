// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package authtest provides in-memory auth repositories for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/authgate/authgate/internal/auth"
)

// UserRepository is an in-memory auth.UserRepository.
type UserRepository struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]auth.User
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{byID: make(map[int64]auth.User)}
}

// Create stores the user and assigns an ID.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == user.Username {
			return oops.Code("USER_DUPLICATE").With("username", user.Username).Wrap(auth.ErrDuplicate)
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.byID[user.ID] = *user
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id int64) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	return &u, nil
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// ExistsByUsername reports whether the username is taken.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return err == nil, nil
}

// Delete removes a user, simulating administrative deletion.
func (r *UserRepository) Delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// RefreshTokenRepository is an in-memory auth.RefreshTokenRepository whose
// Consume is atomic under a mutex.
type RefreshTokenRepository struct {
	mu     sync.Mutex
	byHash map[string]auth.RefreshToken
	now    func() time.Time
}

// NewRefreshTokenRepository creates an empty RefreshTokenRepository.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		byHash: make(map[string]auth.RefreshToken),
		now:    time.Now,
	}
}

// Create stores a token.
func (r *RefreshTokenRepository) Create(_ context.Context, token *auth.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[token.TokenHash]; ok {
		return oops.Code("REFRESH_TOKEN_DUPLICATE").Wrap(auth.ErrDuplicate)
	}
	r.byHash[token.TokenHash] = *token
	return nil
}

// GetByTokenHash retrieves a token without consuming it.
func (r *RefreshTokenRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &t, nil
}

// Consume removes and returns a token.
func (r *RefreshTokenRepository) Consume(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.byHash, tokenHash)
	return &t, nil
}

// DeleteByUser removes all tokens of a user.
func (r *RefreshTokenRepository) DeleteByUser(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, t := range r.byHash {
		if t.UserID == userID {
			delete(r.byHash, h)
		}
	}
	return nil
}

// DeleteExpired removes expired tokens.
func (r *RefreshTokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var n int64
	for h, t := range r.byHash {
		if t.IsExpiredAt(now) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (r *RefreshTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

// Expire moves the expiry of every stored token into the past.
func (r *RefreshTokenRepository) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	past := r.now().Add(-time.Minute)
	for h, t := range r.byHash {
		t.ExpiresAt = past
		r.byHash[h] = t
	}
}

var (
	_ auth.UserRepository         = (*UserRepository)(nil)
	_ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
)
