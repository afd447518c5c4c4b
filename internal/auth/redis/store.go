// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package redis implements auth.RefreshTokenRepository on Redis.
//
// Each token is a hash at <prefix>rt:<token_hash> that expires with the
// token. A set at <prefix>rtu:<user_id> indexes the token hashes of a user
// so they can be revoked together. Every multi-key mutation runs as a Lua
// script, which makes Consume atomic across concurrent callers.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/authgate/authgate/internal/auth"
)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "authgate:"

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "expires_at", ARGV[3], "created_at", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], ARGV[5])
redis.call("SADD", KEYS[2], ARGV[6])
return 1
`

const consumeScript = `
local fields = redis.call("HGETALL", KEYS[1])
if #fields == 0 then
  return fields
end
redis.call("DEL", KEYS[1])
for i = 1, #fields, 2 do
  if fields[i] == "user_id" then
    redis.call("SREM", ARGV[1] .. fields[i + 1], ARGV[2])
  end
end
return fields
`

const deleteUserScript = `
local hashes = redis.call("SMEMBERS", KEYS[1])
for _, h in ipairs(hashes) do
  redis.call("DEL", ARGV[1] .. h)
end
redis.call("DEL", KEYS[1])
return #hashes
`

const pruneIndexScript = `
local removed = 0
for _, h in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  if redis.call("EXISTS", ARGV[1] .. h) == 0 then
    redis.call("SREM", KEYS[1], h)
    removed = removed + 1
  end
end
return removed
`

var (
	createLua     = goredis.NewScript(createScript)
	consumeLua    = goredis.NewScript(consumeScript)
	deleteUserLua = goredis.NewScript(deleteUserScript)
	pruneIndexLua = goredis.NewScript(pruneIndexScript)
)

// RefreshTokenRepository implements auth.RefreshTokenRepository on Redis.
type RefreshTokenRepository struct {
	client goredis.UniversalClient
	prefix string
}

// Option configures a RefreshTokenRepository.
type Option func(*RefreshTokenRepository)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(r *RefreshTokenRepository) {
		r.prefix = prefix
	}
}

// NewRefreshTokenRepository creates a repository on client.
func NewRefreshTokenRepository(client goredis.UniversalClient, opts ...Option) *RefreshTokenRepository {
	r := &RefreshTokenRepository{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RefreshTokenRepository) tokenPrefix() string { return r.prefix + "rt:" }
func (r *RefreshTokenRepository) userPrefix() string  { return r.prefix + "rtu:" }

func (r *RefreshTokenRepository) tokenKey(hash string) string { return r.tokenPrefix() + hash }

func (r *RefreshTokenRepository) userKey(userID int64) string {
	return r.userPrefix() + strconv.FormatInt(userID, 10)
}

// Create stores token with a TTL ending at its expiry.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	created, err := createLua.Run(ctx, r.client,
		[]string{r.tokenKey(token.TokenHash), r.userKey(token.UserID)},
		token.ID.String(),
		token.UserID,
		token.ExpiresAt.UTC().Format(time.RFC3339Nano),
		token.CreatedAt.UTC().Format(time.RFC3339Nano),
		token.ExpiresAt.UnixMilli(),
		token.TokenHash,
	).Int()
	if err != nil {
		return oops.Code("REFRESH_TOKEN_CREATE_FAILED").
			With("operation", "create refresh token").
			With("user_id", token.UserID).
			Wrap(err)
	}
	if created == 0 {
		return oops.Code("REFRESH_TOKEN_DUPLICATE").With("user_id", token.UserID).Wrap(auth.ErrDuplicate)
	}
	return nil
}

// GetByTokenHash reads a token without consuming it.
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").With("operation", "get refresh token").Wrap(err)
	}
	if len(fields) == 0 {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return decodeToken(tokenHash, fields)
}

// Consume atomically reads and deletes a token.
func (r *RefreshTokenRepository) Consume(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	res, err := consumeLua.Run(ctx, r.client,
		[]string{r.tokenKey(tokenHash)},
		r.userPrefix(),
		tokenHash,
	).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, oops.Code("REFRESH_TOKEN_CONSUME_FAILED").With("operation", "consume refresh token").Wrap(err)
	}
	if len(res) == 0 {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeToken(tokenHash, fields)
}

// DeleteByUser removes every token indexed for the user.
func (r *RefreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) error {
	err := deleteUserLua.Run(ctx, r.client, []string{r.userKey(userID)}, r.tokenPrefix()).Err()
	if err != nil {
		return oops.Code("REFRESH_TOKEN_DELETE_BY_USER_FAILED").
			With("operation", "delete refresh tokens by user").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// DeleteExpired prunes index entries whose token key has expired. Redis
// removes the token keys themselves; the count is of pruned entries.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.userPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := pruneIndexLua.Run(ctx, r.client, []string{iter.Val()}, r.tokenPrefix()).Int64()
		if err != nil {
			return removed, oops.Code("REFRESH_TOKEN_DELETE_EXPIRED_FAILED").
				With("operation", "prune user index").
				With("key", iter.Val()).
				Wrap(err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("REFRESH_TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "scan user indexes").
			Wrap(err)
	}
	return removed, nil
}

// Ping reports whether Redis is reachable.
func (r *RefreshTokenRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_UNAVAILABLE").Wrap(err)
	}
	return nil
}

func decodeToken(tokenHash string, fields map[string]string) (*auth.RefreshToken, error) {
	id, err := ulid.Parse(fields["id"])
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_CORRUPT").With("field", "id").Wrap(err)
	}
	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_CORRUPT").With("field", "user_id").Wrap(err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_CORRUPT").With("field", "expires_at").Wrap(err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_CORRUPT").With("field", "created_at").Wrap(err)
	}
	return &auth.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
