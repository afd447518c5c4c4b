// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package auth implements registration, login, refresh token rotation and
// revocation.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a username and password hash
//   - NewRefreshToken - creates a RefreshToken holding the digest of a token value
//
// Repository implementations receive pre-validated types from these
// constructors. Implementations live in the postgres and redis subpackages.
//
// # Service
//
// Service returns outcome.Outcome values. Expected failures such as a taken
// username or a replayed refresh token are reported by outcome kind; only
// unexpected store or signing failures produce an outcome.Error, which
// carries the underlying oops error.
//
// Refresh tokens are single use. Service.Refresh consumes the presented
// token through RefreshTokenRepository.Consume before issuing a new pair,
// so concurrent refreshes with the same token have exactly one winner.
package auth
