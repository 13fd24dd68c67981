package service

import (
	"context"
	"log/slog"
	"time"

	"coffer/internal/core"
)

// ExpiredShareDeleter is the slice of the share store the sweep needs.
type ExpiredShareDeleter interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ShareSweeper periodically removes share rows that have been expired for
// longer than the grace period. The sweep's timing is unenforced and
// access control never consults it: expiry is re-checked at read time on
// every resolution, so a share is denied the instant it lapses whether or
// not its row still exists.
type ShareSweeper struct {
	shares   ExpiredShareDeleter
	clock    core.Clock
	interval time.Duration
	grace    time.Duration
	done     chan struct{}
}

// NewShareSweeper creates a new sweeper.
func NewShareSweeper(shares ExpiredShareDeleter, clock core.Clock, interval, grace time.Duration) *ShareSweeper {
	return &ShareSweeper{
		shares:   shares,
		clock:    clock,
		interval: interval,
		grace:    grace,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *ShareSweeper) Start(ctx context.Context) {
	slog.Info("share sweeper started", "interval", sw.interval, "grace", sw.grace)

	go func() {
		ticker := sw.clock.NewTicker(sw.interval)
		defer ticker.Stop()

		// Run once immediately on start
		sw.RunSweep(ctx)

		for {
			select {
			case <-ticker.C:
				sw.RunSweep(ctx)
			case <-ctx.Done():
				slog.Info("share sweeper stopping")
				close(sw.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (sw *ShareSweeper) Wait() {
	<-sw.done
}

// RunSweep performs one sweep cycle.
func (sw *ShareSweeper) RunSweep(ctx context.Context) {
	cutoff := sw.clock.Now().Add(-sw.grace)

	deleted, err := sw.shares.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		slog.Error("share sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("swept expired shares", "deleted", deleted, "cutoff", cutoff)
	}
}
