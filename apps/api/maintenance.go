package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/apps/internal/app"
	accountsservice "github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
)

type reconciler interface {
	Reconcile(ctx context.Context, limit int) (accountsservice.ReconcileResult, error)
}

type challengePurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// runMaintenance re-applies pending cascades and drops expired login
// challenges every interval until ctx is done.
func runMaintenance(ctx context.Context, a *app.App, interval time.Duration, batch int, logger *zap.Logger) {
	if interval <= 0 {
		logger.Info("maintenance loop disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, a.Accounts, a.Challenges, batch, time.Now(), logger)
		}
	}
}

func sweep(ctx context.Context, accounts reconciler, challenges challengePurger, batch int, now time.Time, logger *zap.Logger) {
	res, err := accounts.Reconcile(ctx, batch)
	if err != nil {
		logger.Error("reconcile cascades", zap.Error(err))
	} else if res.Pending > 0 {
		logger.Info("reconciled cascades",
			zap.Int("pending", res.Pending),
			zap.Int("applied", res.Applied),
			zap.Int("failed", res.Failed),
		)
	}

	purged, err := challenges.PurgeExpired(ctx, now)
	if err != nil {
		logger.Error("purge expired challenges", zap.Error(err))
		return
	}
	if purged > 0 {
		logger.Debug("purged expired challenges", zap.Int64("count", purged))
	}
}
