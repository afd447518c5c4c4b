// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshToken is a persisted refresh token. Only the SHA-256 digest of the
// token value is stored; the value itself is returned to the client once.
type RefreshToken struct {
	ID        ulid.ULID
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewRefreshToken creates a validated RefreshToken for the given plaintext
// value.
func NewRefreshToken(userID int64, value string, expiresAt time.Time) (*RefreshToken, error) {
	if userID <= 0 {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_USER").With("user_id", userID).Errorf("user ID must be positive")
	}
	if value == "" {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_VALUE").Errorf("token value cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &RefreshToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: HashRefreshToken(value),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpiredAt reports whether the token is expired at t.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// HashRefreshToken computes the hex SHA-256 digest under which a refresh
// token value is stored.
func HashRefreshToken(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a token without consuming it.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Consume atomically removes the token and returns it. Of any number of
	// concurrent callers presenting the same hash, exactly one receives the
	// token; the others receive an error wrapping ErrNotFound.
	Consume(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// DeleteByUser removes all tokens for a user. Deleting nothing is not an
	// error.
	DeleteByUser(ctx context.Context, userID int64) error

	// DeleteExpired removes expired tokens and returns how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
