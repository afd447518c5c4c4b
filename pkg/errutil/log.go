// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package errutil bridges oops errors to structured logging and tests.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. For oops errors the code and context
// become attributes; other errors are logged by their message.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if err == nil {
		return
	}
	attrs := []slog.Attr{slog.String("error", err.Error())}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := Code(err); code != "" {
			attrs = append(attrs, slog.String("code", code))
		}
		if octx := oopsErr.Context(); len(octx) > 0 {
			attrs = append(attrs, slog.Any("context", octx))
		}
	}
	logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

// Code returns the oops error code of err, or "" if it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	return fmt.Sprint(code)
}
