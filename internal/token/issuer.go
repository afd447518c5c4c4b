// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package token mints and verifies the credentials handed to clients:
// HS256-signed JWT access tokens and opaque random refresh tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Minimum sizes for key material.
const (
	MinSecretKeyLength   = 32 // 256 bits for HS256
	MinRefreshTokenBytes = 16
	DefaultRefreshBytes  = 32
)

// ErrInvalidToken is returned by ParseAccessToken for any token that fails
// verification. The cause is wrapped for logging but callers should treat
// every failure the same way.
var ErrInvalidToken = errors.New("invalid access token")

// Config holds the signing and lifetime settings for issued tokens.
type Config struct {
	SecretKey        string
	Issuer           string
	Audience         string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	RefreshTokenSize int
}

// Validate checks that the configuration can produce verifiable tokens.
func (c Config) Validate() error {
	if len(c.SecretKey) < MinSecretKeyLength {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretKeyLength).
			Errorf("secret key must be at least %d characters", MinSecretKeyLength)
	}
	if c.Issuer == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("issuer is required")
	}
	if c.Audience == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("audience is required")
	}
	if c.AccessTokenTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("access_token_ttl", c.AccessTokenTTL).
			Errorf("access token lifetime must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("refresh_token_ttl", c.RefreshTokenTTL).
			Errorf("refresh token lifetime must be positive")
	}
	if c.RefreshTokenSize != 0 && c.RefreshTokenSize < MinRefreshTokenBytes {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("refresh_token_size", c.RefreshTokenSize).
			Errorf("refresh token size must be at least %d bytes", MinRefreshTokenBytes)
	}
	return nil
}

// Claims are the access token claims. The subject carries the user id in
// decimal form.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, oops.Code("TOKEN_INVALID_SUBJECT").With("subject", c.Subject).Wrap(err)
	}
	return id, nil
}

// Issuer mints and verifies tokens. It is safe for concurrent use.
type Issuer struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if cfg.RefreshTokenSize == 0 {
		cfg.RefreshTokenSize = DefaultRefreshBytes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	i := &Issuer{
		cfg:    cfg,
		secret: []byte(cfg.SecretKey),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.cfg.AccessTokenTTL
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTokenTTL() time.Duration {
	return i.cfg.RefreshTokenTTL
}

// IssueAccessToken signs an access token for the user and returns it with
// its absolute expiry.
func (i *Issuer) IssueAccessToken(userID int64, username string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.cfg.AccessTokenTTL)

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature, algorithm, issuer, audience and
// expiry. Every failure wraps ErrInvalidToken.
func (i *Issuer) ParseAccessToken(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrap(errors.Join(ErrInvalidToken, err))
	}
	if !tok.Valid {
		return nil, oops.Code("TOKEN_INVALID").Wrap(ErrInvalidToken)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrap(errors.Join(ErrInvalidToken, err))
	}
	return claims, nil
}

// IssueRefreshToken returns a new random refresh token value and its expiry.
// The value is URL-safe base64 without padding so it can travel in a cookie.
func (i *Issuer) IssueRefreshToken() (string, time.Time, error) {
	buf := make([]byte, i.cfg.RefreshTokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", i.cfg.RefreshTokenSize).
			Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), i.now().Add(i.cfg.RefreshTokenTTL), nil
}
