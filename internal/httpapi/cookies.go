// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/authgate/authgate/internal/auth"
)

// Cookie names used in cookie delivery mode.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

func setTokenCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, tokenCookie(AccessTokenCookie, pair.AccessToken, pair.AccessTokenExpiresAt))
	http.SetCookie(w, tokenCookie(RefreshTokenCookie, pair.RefreshToken, pair.RefreshTokenExpiresAt))
}

// tokenCookie builds a cross-site credential cookie that expires with the
// token it carries.
func tokenCookie(name, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	if !expires.IsZero() {
		c.Expires = expires.UTC()
	}
	return c
}
