// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/authgate/authgate/pkg/errutil"
)

// Janitor periodically removes expired refresh tokens.
type Janitor struct {
	tokens   RefreshTokenRepository
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(int64)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(tokens RefreshTokenRepository, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{tokens: tokens, interval: interval, logger: logger}
}

// OnSweep registers fn to receive the count of every successful sweep.
// It must be called before Start.
func (j *Janitor) OnSweep(fn func(removed int64)) {
	j.onSweep = fn
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.tokens.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("JANITOR_SWEEP_FAILED").Wrap(err)
	}
	if j.onSweep != nil {
		j.onSweep(n)
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "removed expired refresh tokens", "count", n)
	}
	return n, nil
}

// Start sweeps once immediately and then on every tick until Stop.
func (j *Janitor) Start(ctx context.Context) error {
	if j.interval <= 0 {
		return oops.Code("JANITOR_INVALID_INTERVAL").With("interval", j.interval).Errorf("interval must be positive")
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.run(ctx)
	return nil
}

// Stop cancels the loop and waits for the running sweep to return.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			errutil.LogError(ctx, j.logger, "refresh token sweep failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
