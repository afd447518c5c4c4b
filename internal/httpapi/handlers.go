// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/outcome"
)

const (
	maxBodyBytes         = 1 << 20
	internalErrorMessage = "internal error"
)

type credentialsRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.svc.Register(r.Context(), req.Username, req.Password)
	switch res.Kind {
	case outcome.Success:
		w.WriteHeader(http.StatusOK)
	case outcome.Conflict:
		writeText(w, http.StatusConflict, res.Message)
	default:
		writeInternal(w)
	}
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	useCookies, ok := parseUseCookies(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.svc.Login(r.Context(), req.Username, req.Password)
	switch res.Kind {
	case outcome.Success:
		h.deliver(w, res.Value, useCookies)
	case outcome.NotFound:
		writeText(w, http.StatusNotFound, res.Message)
	case outcome.InvalidCredentials:
		writeText(w, http.StatusUnauthorized, res.Message)
	default:
		writeInternal(w)
	}
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	useCookies, ok := parseUseCookies(w, r)
	if !ok {
		return
	}

	var presented string
	if useCookies {
		c, err := r.Cookie(RefreshTokenCookie)
		if err != nil || c.Value == "" {
			writeText(w, http.StatusBadRequest, "Missing refresh token cookie")
			return
		}
		presented = c.Value
	} else {
		var req refreshRequest
		if !h.decode(w, r, &req) {
			return
		}
		presented = req.RefreshToken
	}

	res := h.svc.Refresh(r.Context(), presented)
	switch res.Kind {
	case outcome.Success:
		h.deliver(w, res.Value, useCookies)
	case outcome.InvalidCredentials:
		writeText(w, http.StatusUnauthorized, res.Message)
	default:
		writeInternal(w)
	}
}

func (h *handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	claims := claimsFrom(r.Context())
	callerID, err := claims.UserID()
	if err != nil || callerID != id {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	res := h.svc.RevokeRefreshTokens(r.Context(), id)
	if res.Kind != outcome.Success {
		writeInternal(w)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) whoami(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	writeText(w, http.StatusOK, fmt.Sprintf("Hi there, %s. You are authenticated!", claims.Username))
}

// deliver writes a token pair as cookies or as the JSON body.
func (h *handler) deliver(w http.ResponseWriter, pair auth.TokenPair, useCookies bool) {
	if useCookies {
		setTokenCookies(w, pair)
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(pair); err != nil {
		h.logger.Debug("write token response failed", "error", err)
	}
}

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "Malformed request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		writeText(w, http.StatusBadRequest, msg)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeText(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func parseUseCookies(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("useCookies")
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeText(w, http.StatusBadRequest, "useCookies must be a boolean")
		return false, false
	}
	return v, true
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	io.WriteString(w, msg)
}

func writeInternal(w http.ResponseWriter) {
	writeText(w, http.StatusInternalServerError, internalErrorMessage)
}
