package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// FriendshipReconciler repairs accepted friendship rows that lost their reverse row.
type FriendshipReconciler struct {
	friends  repositories.FriendRepository
	interval time.Duration
	batch    int
	log      *zap.Logger
}

// NewFriendshipReconciler builds a reconciler that scans every interval.
func NewFriendshipReconciler(friends repositories.FriendRepository, interval time.Duration, log *zap.Logger) *FriendshipReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FriendshipReconciler{friends: friends, interval: interval, batch: 100, log: log}
}

// Run scans until ctx is cancelled.
func (r *FriendshipReconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("friendship reconciliation failed", zap.Error(err))
			}
		}
	}
}

// RunOnce repairs one batch of one-sided rows and returns how many were repaired.
func (r *FriendshipReconciler) RunOnce(ctx context.Context) (int, error) {
	rows, err := r.friends.FindOneSided(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, f := range rows {
		var action repositories.RepairAction
		op := func() error {
			var err error
			action, err = r.friends.RepairOneSided(ctx, f)
			return err
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = 5 * time.Second
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			r.log.Warn("repair friendship failed",
				zap.String("user_id", f.UserID.String()),
				zap.String("friend_id", f.FriendID.String()),
				zap.Error(err))
			continue
		}
		if action == repositories.RepairNone {
			continue
		}
		repaired++
		observability.IncFriendshipRepair(string(action))
		r.log.Info("repaired friendship",
			zap.String("user_id", f.UserID.String()),
			zap.String("friend_id", f.FriendID.String()),
			zap.String("action", string(action)))
	}
	return repaired, nil
}
