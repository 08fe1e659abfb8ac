package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SyncAccount runs the profile pass and then the post pass for acct.
// A profile failure is logged and does not prevent the post pass.
func (e *Engine) SyncAccount(ctx context.Context, acct Account) (Report, error) {
	logger := e.logger.With("account", acct.Handle)

	if err := e.SyncProfile(ctx, acct); err != nil {
		logger.Warn("profile pass incomplete", "error", err)
	}
	if !e.postSync {
		return Report{Account: acct.Handle}, nil
	}

	mode, err := e.Mode(ctx, acct.Handle)
	if err != nil {
		return Report{Account: acct.Handle}, err
	}
	return e.SyncPosts(ctx, acct, mode)
}

// RunCycle syncs every account once, in order. An account's failure is
// logged and the remaining accounts still run; the failures are returned
// joined.
func (e *Engine) RunCycle(ctx context.Context, accounts []Account) error {
	runID := e.runIDs.Generate()
	logger := e.logger.With("run_id", runID)

	ctx, span := e.tracer.Start(ctx, "engine.RunCycle", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("accounts", len(accounts)),
	))
	defer span.End()

	start := time.Now()
	logger.Info("sync cycle starting", "accounts", len(accounts))

	var errs []error
	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.SyncAccount(ctx, acct); err != nil {
			logger.Error("account sync failed", "account", acct.Handle, "error", err)
			errs = append(errs, fmt.Errorf("account %s: %w", acct.Handle, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account failures")
	}
	logger.Info("sync cycle finished", "duration", time.Since(start), "failed_accounts", len(errs))
	return err
}

// Run repeats RunCycle every interval until ctx is cancelled. With a
// non-positive interval it runs a single cycle. Cycle failures are logged
// and never stop the loop.
func (e *Engine) Run(ctx context.Context, accounts []Account, interval time.Duration) error {
	if interval <= 0 {
		return e.RunCycle(ctx, accounts)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return nil
		case <-timer.C:
		}

		if err := e.RunCycle(ctx, accounts); err != nil {
			e.logger.Warn("sync cycle completed with errors", "error", err)
		}
		timer.Reset(interval)
	}
}
