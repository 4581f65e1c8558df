// Package reaper reclaims jobs whose closure has passed: their folder is
// removed from storage and their row deleted.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/filing"
	"github.com/kiranshivaraju/jobkeeper/internal/storage"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
)

const batchSize = 100

// Reaper periodically sweeps expired jobs.
type Reaper struct {
	store    store.Store
	fs       storage.FileSystem
	res      *filing.Resolver
	interval time.Duration
}

func New(st store.Store, fs storage.FileSystem, res *filing.Resolver, interval time.Duration) *Reaper {
	return &Reaper{store: st, fs: fs, res: res, interval: interval}
}

// Run sweeps on the configured interval until the context is cancelled.
// It is intended to run in its own goroutine.
func (r *Reaper) Run(ctx context.Context) {
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
			if n, err := r.Sweep(ctx); err != nil {
				slog.Error("reaper sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("reaped expired jobs", "count", n)
			}
		}
	}
}

// Sweep removes one batch of expired jobs and reports how many it reclaimed.
// A job whose folder cannot be removed is skipped and retried next sweep;
// its row is only deleted after the folder is gone.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	expired, err := r.store.ListExpiredJobs(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, j := range expired {
		if err := r.fs.RemoveAll(r.res.RootDir(j)); err != nil {
			slog.Warn("remove job folder", "job_id", j.ID, "error", err)
			continue
		}
		if err := r.store.DeleteJob(ctx, j.ID); err != nil {
			slog.Warn("delete job row", "job_id", j.ID, "error", err)
			continue
		}
		reaped++
	}
	return reaped, nil
}
